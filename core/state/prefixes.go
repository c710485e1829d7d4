package state

var (
	listingKeyBytes    = []byte("listing/current")
	accountPrefix      = []byte("account/")
	genesisMarkerBytes = []byte("genesis/applied")
)
