package listing

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"homeescrow/core/types"
)

const (
	EventTypeListingCreated      = "listing.created"
	EventTypeListingRepositioned = "listing.repositioned"
	EventTypeListingExtended     = "listing.extended"
	EventTypeListingWithdrawn    = "listing.withdrawn"
	EventTypeListingExpired      = "listing.expired"
	EventTypeListingSold         = "listing.sold"
	EventTypeOfferSubmitted      = "offer.submitted"
	EventTypeOfferUpdated        = "offer.updated"
	EventTypeOfferAccepted       = "offer.accepted"
	EventTypeOfferWithdrawn      = "offer.withdrawn"
	EventTypeMortgageApproved    = "offer.mortgage_approved"
	EventTypeMortgageRevoked     = "offer.mortgage_revoked"
	EventTypeAgreementTerminated = "agreement.terminated"
	EventTypeDepositWithdrawn    = "deposit.withdrawn"
	EventTypeFeeBalanceWithdrawn = "fee.withdrawn"
)

type listingEvent struct {
	evt *types.Event
}

func (e listingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e listingEvent) Event() *types.Event { return e.evt }

// NewListingEvent returns the canonical payload for a listing-level transition.
func NewListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["propertyId"] = l.PropertyID.String()
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["status"] = l.Status.String()
	attrs["listPrice"] = cloneBigInt(l.ListPrice).String()
	attrs["expirationDate"] = strconv.FormatInt(l.ExpirationDate, 10)
	attrs["refundDate"] = strconv.FormatInt(l.RefundDate, 10)
	if l.HasAcceptedOffer() {
		attrs["successfulBuyer"] = hex.EncodeToString(l.SuccessfulBuyer[:])
	}
	if l.SalePrice != nil && l.SalePrice.Sign() > 0 {
		attrs["salePrice"] = l.SalePrice.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewOfferEvent returns the canonical payload for an offer-level transition.
// Encrypted terms are never copied into events.
func NewOfferEvent(eventType string, l *Listing, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["propertyId"] = l.PropertyID.String()
		attrs["status"] = l.Status.String()
	}
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["buyer"] = hex.EncodeToString(o.Buyer[:])
	attrs["amountHash"] = hex.EncodeToString(o.AmountHash[:])
	attrs["titleCompany"] = hex.EncodeToString(o.TitleCompany[:])
	if !o.Cash() {
		attrs["mortgageCompany"] = hex.EncodeToString(o.MortgageCompany[:])
	}
	attrs["inspectionPeriodDays"] = strconv.FormatUint(uint64(o.InspectionPeriodDays), 10)
	attrs["mortgageCommitment"] = strconv.FormatBool(o.MortgageCommitment)
	attrs["withdrawn"] = strconv.FormatBool(o.Withdrawn)
	if o.Accepted() {
		attrs["dateAccepted"] = strconv.FormatInt(o.DateAccepted, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPayoutEvent returns the canonical payload for a transfer out of escrow.
func NewPayoutEvent(eventType string, l *Listing, p *Payout) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["propertyId"] = l.PropertyID.String()
		attrs["status"] = l.Status.String()
	}
	if p != nil {
		attrs["recipient"] = hex.EncodeToString(p.Recipient[:])
		attrs["amount"] = cloneBigInt(p.Amount).String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func withAttr(evt *types.Event, key, value string) *types.Event {
	if evt != nil && value != "" {
		evt.Attributes[key] = value
	}
	return evt
}

func amountAttr(v *big.Int) string {
	return cloneBigInt(v).String()
}
