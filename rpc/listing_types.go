package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"homeescrow/crypto"
	"homeescrow/native/listing"
)

type listingJSON struct {
	PropertyID      string      `json:"propertyId"`
	PropertyAddress string      `json:"propertyAddress"`
	Seller          string      `json:"seller"`
	SellerPublicKey string      `json:"sellerPublicKey"`
	ListPrice       string      `json:"listPrice"`
	SalePrice       string      `json:"salePrice"`
	Status          string      `json:"status"`
	CreatedAt       int64       `json:"createdAt"`
	ExpirationDate  int64       `json:"expirationDate"`
	RefundDate      int64       `json:"refundDate"`
	SuccessfulBuyer string      `json:"successfulBuyer,omitempty"`
	FeeBalance      string      `json:"feeBalance"`
	TotalDeposits   string      `json:"totalDeposits"`
	TotalPaidOut    string      `json:"totalPaidOut"`
	EventSequence   uint64      `json:"eventSequence"`
	Offers          []offerJSON `json:"offers"`
}

type offerJSON struct {
	Buyer                string `json:"buyer"`
	AmountHash           string `json:"amountHash"`
	MortgageCompany      string `json:"mortgageCompany,omitempty"`
	TitleCompany         string `json:"titleCompany"`
	EncryptedTerms       string `json:"encryptedTerms"`
	InspectionPeriodDays uint32 `json:"inspectionPeriodDays"`
	Deposit              string `json:"deposit"`
	Refund               string `json:"refund"`
	DateSubmitted        int64  `json:"dateSubmitted"`
	DateAccepted         int64  `json:"dateAccepted,omitempty"`
	MortgageCommitment   bool   `json:"mortgageCommitment"`
	Withdrawn            bool   `json:"withdrawn"`
}

type payoutJSON struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type conservationJSON struct {
	FeeBalance    string `json:"feeBalance"`
	TotalRefunds  string `json:"totalRefunds"`
	TotalDeposits string `json:"totalDeposits"`
	TotalPaidOut  string `json:"totalPaidOut"`
	Held          string `json:"held"`
	Balanced      bool   `json:"balanced"`
}

func formatListing(l *listing.Listing) listingJSON {
	out := listingJSON{
		PropertyID:      l.PropertyID.String(),
		PropertyAddress: l.PropertyAddress,
		Seller:          crypto.FormatAddress(l.Seller),
		SellerPublicKey: l.SellerPublicKey,
		ListPrice:       amountString(l.ListPrice),
		SalePrice:       amountString(l.SalePrice),
		Status:          l.Status.String(),
		CreatedAt:       l.CreatedAt,
		ExpirationDate:  l.ExpirationDate,
		RefundDate:      l.RefundDate,
		SuccessfulBuyer: crypto.FormatAddress(l.SuccessfulBuyer),
		FeeBalance:      amountString(l.FeeBalance),
		TotalDeposits:   amountString(l.TotalDeposits),
		TotalPaidOut:    amountString(l.TotalPaidOut),
		EventSequence:   l.EventSeq,
		Offers:          []offerJSON{},
	}
	for _, entry := range l.Ledger.Entries() {
		out.Offers = append(out.Offers, formatOffer(entry.Offer, entry.Refund))
	}
	return out
}

func formatOffer(o *listing.Offer, refund *big.Int) offerJSON {
	return offerJSON{
		Buyer:                crypto.FormatAddress(o.Buyer),
		AmountHash:           common.Hash(o.AmountHash).Hex(),
		MortgageCompany:      crypto.FormatAddress(o.MortgageCompany),
		TitleCompany:         crypto.FormatAddress(o.TitleCompany),
		EncryptedTerms:       hexutil.Encode(o.EncryptedTerms),
		InspectionPeriodDays: o.InspectionPeriodDays,
		Deposit:              amountString(o.Deposit),
		Refund:               amountString(refund),
		DateSubmitted:        o.DateSubmitted,
		DateAccepted:         o.DateAccepted,
		MortgageCommitment:   o.MortgageCommitment,
		Withdrawn:            o.Withdrawn,
	}
}

func formatPayout(p *listing.Payout) payoutJSON {
	return payoutJSON{Recipient: crypto.FormatAddress(p.Recipient), Amount: amountString(p.Amount)}
}

func formatConservation(c listing.Conservation) conservationJSON {
	return conservationJSON{
		FeeBalance:    amountString(c.FeeBalance),
		TotalRefunds:  amountString(c.TotalRefunds),
		TotalDeposits: amountString(c.TotalDeposits),
		TotalPaidOut:  amountString(c.TotalPaidOut),
		Held:          amountString(c.Held()),
		Balanced:      c.Balanced(),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// decodeParams unmarshals the single parameter object. Methods without
// arguments accept an empty params list.
func decodeParams(req *RPCRequest, dst interface{}) error {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
		if err := json.Unmarshal(req.Params[0], dst); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("exactly one parameter object expected")
	}
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	return crypto.ParseAddress(trimmed)
}

func parseOptionalAddress(addr string) ([20]byte, error) {
	if strings.TrimSpace(addr) == "" {
		return [20]byte{}, nil
	}
	return crypto.ParseAddress(addr)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseHash(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("amountHash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("amountHash must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// Blob encodings accepted for opaque byte fields. Hex is the default and
// requires the 0x prefix; raw stores the string bytes verbatim.
const (
	encodingHex    = "hex"
	encodingRaw    = "raw"
	encodingBase64 = "base64"
)

// decodeBlob decodes value according to encoding. An empty value is nil
// under every encoding.
func decodeBlob(field, value, encoding string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", encodingHex:
		raw, err := hexutil.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return raw, nil
	case encodingRaw:
		return []byte(value), nil
	case encodingBase64:
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%s: unsupported encoding %q", field, encoding)
	}
}
