package domains

import (
	"edgesites/internal/edgeapi"
	"edgesites/internal/models"
)

// hostnameStatus maps the edge platform's custom hostname status. Unknown
// values map to "" which Advance ignores.
func hostnameStatus(s string) models.DomainStatus {
	switch s {
	case "active":
		return models.DomainStatusActive
	case "pending", "test_pending", "test_active", "test_active_apex":
		return models.DomainStatusPendingVerification
	case "blocked", "moved", "deleted", "test_failed":
		return models.DomainStatusFailed
	}
	return ""
}

func sslStatus(s string) models.SSLStatus {
	switch s {
	case "active":
		return models.SSLStatusActive
	case "initializing":
		return models.SSLStatusPending
	case "pending_validation", "pending_issuance", "pending_deployment":
		return models.SSLStatusPendingValidation
	case "validation_timed_out", "issuance_timed_out", "expired", "deleted":
		return models.SSLStatusFailed
	}
	return ""
}

// applyVerification copies the proof-of-ownership record for the domain's
// method out of the edge response. Fields stay untouched when the edge has not
// produced a record yet.
func applyVerification(d *models.CustomDomain, h *edgeapi.CustomHostname) {
	for _, r := range h.SSL.ValidationRecords {
		switch d.VerificationMethod {
		case models.VerificationHTTP:
			if r.HTTPURL != "" {
				d.VerificationName, d.VerificationValue = r.HTTPURL, r.HTTPBody
				return
			}
		case models.VerificationDNSTXT:
			if r.TxtName != "" {
				d.VerificationName, d.VerificationValue = r.TxtName, r.TxtValue
				return
			}
		case models.VerificationDNSCNAME:
			if r.CNAME != "" {
				d.VerificationName, d.VerificationValue = r.CNAME, r.CNAMETarget
				return
			}
		}
	}

	if d.VerificationMethod == models.VerificationHTTP {
		if ov := h.OwnershipVerificationHTTP; ov != nil && ov.HTTPURL != "" {
			d.VerificationName, d.VerificationValue = ov.HTTPURL, ov.HTTPBody
		}
		return
	}
	if ov := h.OwnershipVerification; d.VerificationMethod == models.VerificationDNSTXT && ov != nil && ov.Name != "" {
		d.VerificationName, d.VerificationValue = ov.Name, ov.Value
	}
}
