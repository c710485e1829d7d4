package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counter of one caller in the current window.
type QuotaNow struct {
	ReqCount uint32
	WindowID uint64
}

// Quota bounds the mutating calls a single caller may make per window. A
// zero MaxRequests disables the check.
type Quota struct {
	MaxRequests   uint32
	WindowSeconds uint32
}

// Enabled reports whether the quota limits anything.
func (q Quota) Enabled() bool {
	return q.MaxRequests > 0
}

// WindowID maps a unix timestamp onto its quota window.
func (q Quota) WindowID(now int64) uint64 {
	if now <= 0 {
		return 0
	}
	window := int64(q.WindowSeconds)
	if window <= 0 {
		window = 60
	}
	return uint64(now / window)
}

// CheckQuota verifies whether addReq more requests fit within the quota. The
// returned QuotaNow reflects the updated counter when the quota is not
// exceeded and equals prev otherwise.
func CheckQuota(q Quota, window uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.WindowID != window {
		next = QuotaNow{WindowID: window}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequests > 0 && next.ReqCount > q.MaxRequests {
		return prev, ErrQuotaRequestsExceeded
	}
	return next, nil
}
