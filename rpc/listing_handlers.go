package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"homeescrow/crypto"
	nativecommon "homeescrow/native/common"
	"homeescrow/native/listing"
	"homeescrow/observability"
	"homeescrow/observability/logging"
)

const (
	codeListingInvalid   = -32030
	codeListingNotFound  = -32031
	codeListingForbidden = -32032
	codeListingConflict  = -32033
	codeListingPaused    = -32034
	codeListingUpstream  = -32035
	codeListingInternal  = -32036
)

var allStatuses = []string{
	listing.StatusActive.String(),
	listing.StatusContingent.String(),
	listing.StatusSold.String(),
	listing.StatusExpired.String(),
	listing.StatusWithdrawn.String(),
}

type createParams struct {
	callerMetadataParams
	PropertyAddress   string `json:"propertyAddress"`
	SellerPublicKey   string `json:"sellerPublicKey"`
	Price             string `json:"price"`
	ListingPeriodDays uint32 `json:"listingPeriodDays"`
}

type repositionParams struct {
	callerMetadataParams
	Price string `json:"price"`
}

type extendParams struct {
	callerMetadataParams
	Days uint32 `json:"days"`
}

type offerParams struct {
	callerMetadataParams
	AmountHash     string `json:"amountHash"`
	EncryptedTerms string `json:"encryptedTerms"`
	// TermsEncoding is hex (default), raw or base64.
	TermsEncoding        string `json:"encryptedTermsEncoding,omitempty"`
	InspectionPeriodDays uint32 `json:"inspectionPeriodDays"`
	TitleCompany         string `json:"titleCompany"`
	MortgageCompany      string `json:"mortgageCompany"`
	Deposit              string `json:"deposit"`
}

type acceptParams struct {
	callerMetadataParams
	Buyer  string `json:"buyer"`
	Amount string `json:"amount"`
	Key    string `json:"key"`
	// KeyEncoding is hex (default), raw or base64.
	KeyEncoding string `json:"keyEncoding,omitempty"`
}

type buyerParams struct {
	callerMetadataParams
	Buyer string `json:"buyer"`
}

type terminateParams struct {
	callerMetadataParams
	Reason string `json:"reason"`
}

type addressParams struct {
	Address string `json:"address"`
}

type commitParams struct {
	Amount string `json:"amount"`
	Key    string `json:"key"`
	// KeyEncoding is hex (default), raw or base64.
	KeyEncoding string `json:"keyEncoding,omitempty"`
}

func (s *Server) handleListingCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Caller) {
	var params createParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	created, err := s.engine.Create(r.Context(), caller.Address, params.PropertyAddress, params.SellerPublicKey, price, params.ListingPeriodDays)
	s.recordOperation("create", err)
	if err != nil {
		s.writeListingError(w, req.ID, "create", err)
		return
	}
	s.log.Info("listing created",
		slog.String("property_id", created.PropertyID.String()),
		logging.MaskField("seller_public_key", params.SellerPublicKey))
	writeResult(w, req.ID, formatListing(created))
}

func (s *Server) handleListingReposition(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params repositionParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.respondMutation(w, req.ID, "reposition", s.engine.Reposition(caller.Address, price))
}

func (s *Server) handleListingExtend(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params extendParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	s.respondMutation(w, req.ID, "extend", s.engine.ExtendListing(caller.Address, params.Days))
}

func (s *Server) handleListingWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	s.respondMutation(w, req.ID, "withdraw_listing", s.engine.WithdrawListing(caller.Address))
}

func (s *Server) handleListingExpire(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	s.respondMutation(w, req.ID, "expire", s.engine.ExpireListing(caller.Address))
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params offerParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	offer, err := parseOfferFields(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.SubmitOffer(caller.Address, listing.OfferRequest{
		AmountHash:           offer.AmountHash,
		EncryptedTerms:       offer.EncryptedTerms,
		InspectionPeriodDays: offer.InspectionPeriodDays,
		TitleCompany:         offer.TitleCompany,
		MortgageCompany:      offer.MortgageCompany,
		Deposit:              deposit,
	})
	s.respondMutation(w, req.ID, "submit_offer", err)
}

func (s *Server) handleUpdateOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params offerParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	terms, err := parseOfferFields(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.respondMutation(w, req.ID, "update_offer", s.engine.UpdateOffer(caller.Address, terms))
}

func parseOfferFields(params offerParams) (listing.OfferTerms, error) {
	var terms listing.OfferTerms
	hash, err := parseHash(params.AmountHash)
	if err != nil {
		return terms, err
	}
	encrypted, err := decodeBlob("encryptedTerms", params.EncryptedTerms, params.TermsEncoding)
	if err != nil {
		return terms, err
	}
	title, err := parseOptionalAddress(params.TitleCompany)
	if err != nil {
		return terms, err
	}
	mortgage, err := parseOptionalAddress(params.MortgageCompany)
	if err != nil {
		return terms, err
	}
	return listing.OfferTerms{
		AmountHash:           hash,
		MortgageCompany:      mortgage,
		TitleCompany:         title,
		EncryptedTerms:       encrypted,
		InspectionPeriodDays: params.InspectionPeriodDays,
	}, nil
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params acceptParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := decodeBlob("key", params.Key, params.KeyEncoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.AcceptOffer(caller.Address, buyer, amount, key)
	if err != nil {
		s.log.Info("offer acceptance rejected",
			slog.String("buyer", crypto.FormatAddress(buyer)),
			slog.String("key_fingerprint", logging.Fingerprint(key)),
			slog.Any("error", err))
	}
	s.respondMutation(w, req.ID, "accept_offer", err)
}

func (s *Server) handleApproveMortgage(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	s.handleMortgage(w, req, caller, "approve_mortgage", s.engine.ApproveMortgage)
}

func (s *Server) handleRevokeMortgage(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	s.handleMortgage(w, req, caller, "revoke_mortgage", s.engine.RevokeMortgageApproval)
}

func (s *Server) handleMortgage(w http.ResponseWriter, req *RPCRequest, caller *Caller, op string, fn func(caller, buyer [20]byte) error) {
	var params buyerParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.respondMutation(w, req.ID, op, fn(caller.Address, buyer))
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	s.respondMutation(w, req.ID, "withdraw_offer", s.engine.WithdrawOffer(caller.Address))
}

func (s *Server) handlePropertySold(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	s.respondMutation(w, req.ID, "property_sold", s.engine.PropertySold(caller.Address))
}

func (s *Server) handleTerminateAgreement(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params terminateParams
	if !s.decodeMutation(w, req, caller, &params, &params.callerMetadataParams) {
		return
	}
	s.respondMutation(w, req.ID, "terminate_agreement", s.engine.TerminateAgreement(caller.Address, params.Reason))
}

func (s *Server) handleWithdrawDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	payout, err := s.engine.WithdrawDeposit(caller.Address)
	s.respondPayout(w, req.ID, "withdraw_deposit", payout, err)
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	var params callerMetadataParams
	if !s.decodeMutation(w, req, caller, &params, &params) {
		return
	}
	payout, err := s.engine.WithdrawFeeBalance(caller.Address)
	s.respondPayout(w, req.ID, "withdraw_fees", payout, err)
}

func (s *Server) handleListingGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	l, err := s.engine.Listing()
	if err != nil {
		s.writeListingError(w, req.ID, "get", err)
		return
	}
	writeResult(w, req.ID, formatListing(l))
}

func (s *Server) handleListingOffers(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	l, err := s.engine.Listing()
	if err != nil {
		s.writeListingError(w, req.ID, "offers", err)
		return
	}
	writeResult(w, req.ID, formatListing(l).Offers)
}

func (s *Server) handleListingOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	buyer, ok := s.decodeAddress(w, req)
	if !ok {
		return
	}
	offer, err := s.engine.Offer(buyer)
	if err != nil {
		s.writeListingError(w, req.ID, "offer", err)
		return
	}
	refund, err := s.engine.Refund(buyer)
	if err != nil {
		s.writeListingError(w, req.ID, "offer", err)
		return
	}
	writeResult(w, req.ID, formatOffer(offer, refund))
}

func (s *Server) handleListingRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	buyer, ok := s.decodeAddress(w, req)
	if !ok {
		return
	}
	refund, err := s.engine.Refund(buyer)
	if err != nil {
		s.writeListingError(w, req.ID, "refund", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"address": crypto.FormatAddress(buyer), "refund": amountString(refund)})
}

func (s *Server) handleFeeBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	fee, err := s.engine.FeeBalance()
	if err != nil {
		s.writeListingError(w, req.ID, "fee_balance", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"feeBalance": amountString(fee)})
}

func (s *Server) handleCanWithdrawDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	addr, ok := s.decodeAddress(w, req)
	if !ok {
		return
	}
	allowed, err := s.engine.CanWithdrawDeposit(addr)
	if err != nil {
		s.writeListingError(w, req.ID, "can_withdraw_deposit", err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"address": crypto.FormatAddress(addr), "canWithdraw": allowed})
}

func (s *Server) handleCheckInvariant(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	if err := s.engine.CheckInvariant(); err != nil {
		if errors.Is(err, listing.ErrInvariantViolation) {
			writeResult(w, req.ID, map[string]interface{}{"ok": false, "violation": err.Error()})
			return
		}
		s.writeListingError(w, req.ID, "check_invariant", err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"ok": true})
}

func (s *Server) handleConservation(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	report, err := s.engine.Conservation()
	if err != nil {
		s.writeListingError(w, req.ID, "conservation", err)
		return
	}
	writeResult(w, req.ID, formatConservation(report))
}

func (s *Server) handleCommitAmount(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	var params commitParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := decodeBlob("key", params.Key, params.KeyEncoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := listing.CommitAmount(amount, key)
	if err != nil {
		s.writeListingError(w, req.ID, "commit_amount", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amountHash": common.Hash(hash).Hex()})
}

func (s *Server) decodeAddress(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [20]byte{}, false
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

// decodeMutation decodes dst and enforces the optional replay protection
// carried in meta.
func (s *Server) decodeMutation(w http.ResponseWriter, req *RPCRequest, caller *Caller, dst interface{}, meta *callerMetadataParams) bool {
	if err := decodeParams(req, dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	if err := s.validateCallerMetadata(callerKeyFromAddress(caller.Address), *meta); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	if err := s.consumeQuota(caller); err != nil {
		observability.RPC().RecordThrottle("caller_quota")
		s.log.Warn("caller quota exceeded", slog.String("caller", caller.String()))
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "caller quota exceeded", err.Error())
		return false
	}
	return true
}

func (s *Server) respondMutation(w http.ResponseWriter, id interface{}, op string, err error) {
	s.recordOperation(op, err)
	if err != nil {
		s.writeListingError(w, id, op, err)
		return
	}
	l, err := s.engine.Listing()
	if err != nil {
		s.writeListingError(w, id, op, err)
		return
	}
	writeResult(w, id, formatListing(l))
}

func (s *Server) respondPayout(w http.ResponseWriter, id interface{}, op string, payout *listing.Payout, err error) {
	s.recordOperation(op, err)
	if err != nil {
		s.writeListingError(w, id, op, err)
		return
	}
	writeResult(w, id, formatPayout(payout))
}

// recordOperation counts the call and refreshes the escrow gauges from the
// committed snapshot.
func (s *Server) recordOperation(op string, err error) {
	metrics := observability.Listing()
	metrics.RecordOperation(op, errorReason(err))
	l, snapErr := s.engine.Listing()
	if snapErr != nil {
		return
	}
	metrics.SetStatus(l.Status.String(), allStatuses)
	report := listing.ConservationOf(l)
	metrics.SetEscrow(report.FeeBalance, report.TotalRefunds, report.TotalDeposits, report.TotalPaidOut, l.Ledger.Len())
}

// errorReason turns a sentinel into a stable metric label.
func errorReason(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, listing.ErrInvariantViolation) {
		return "invariant_violation"
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return "paused"
	}
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && strings.HasPrefix(msg, "listing") {
		msg = msg[i+2:]
		if j := strings.Index(msg, ":"); j >= 0 {
			msg = msg[:j]
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(msg), " ", "_")
}

var (
	invalidErrors = []error{
		listing.ErrInvalidAddress, listing.ErrInvalidPrice, listing.ErrPriceUnchanged,
		listing.ErrInvalidPublicKey, listing.ErrInvalidPeriod, listing.ErrInvalidDays,
		listing.ErrZeroCommitment, listing.ErrCommitmentMismatch, listing.ErrInvalidAmount,
		listing.ErrEmptyKey, listing.ErrDepositTooLow, listing.ErrTitleRequired,
	}
	forbiddenErrors = []error{listing.ErrUnauthorized, listing.ErrSellerCannotBid}
	notFoundErrors  = []error{listing.ErrListingNotFound, listing.ErrOfferNotFound}
	conflictErrors  = []error{
		listing.ErrListingExists, listing.ErrInvalidStatus, listing.ErrListingExpired,
		listing.ErrNotExpired, listing.ErrOfferAccepted, listing.ErrOfferExists,
		listing.ErrOfferWithdrawn, listing.ErrOfferNotAccepted, listing.ErrMortgagePending,
		listing.ErrInspectionElapsed, listing.ErrWithdrawLocked, listing.ErrNothingToWithdraw,
		listing.ErrInsufficientFunds,
	}
)

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) writeListingError(w http.ResponseWriter, id interface{}, op string, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeListingInternal
	message := "internal_error"
	switch {
	case errors.Is(err, listing.ErrInvariantViolation):
		s.log.Error("listing invariant violated", slog.String("operation", op), slog.Any("error", err))
	case errors.Is(err, nativecommon.ErrModulePaused):
		status, code, message = http.StatusServiceUnavailable, codeListingPaused, "paused"
	case errors.Is(err, listing.ErrIdentifierService):
		status, code, message = http.StatusBadGateway, codeListingUpstream, "identifier_service_unavailable"
	case matchesAny(err, invalidErrors):
		status, code, message = http.StatusBadRequest, codeListingInvalid, "invalid_request"
	case matchesAny(err, forbiddenErrors):
		status, code, message = http.StatusForbidden, codeListingForbidden, "forbidden"
	case matchesAny(err, notFoundErrors):
		status, code, message = http.StatusNotFound, codeListingNotFound, "not_found"
	case matchesAny(err, conflictErrors):
		status, code, message = http.StatusConflict, codeListingConflict, "conflict"
	default:
		s.log.Error("listing operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	writeError(w, status, id, code, message, err.Error())
}
