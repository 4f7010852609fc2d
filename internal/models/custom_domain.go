package models

import (
	"fmt"
	"time"
)

type DomainStatus string

const (
	DomainStatusPending             DomainStatus = "pending"
	DomainStatusPendingVerification DomainStatus = "pending_verification"
	DomainStatusActive              DomainStatus = "active"
	DomainStatusFailed              DomainStatus = "failed"
)

type SSLStatus string

const (
	SSLStatusPending           SSLStatus = "pending"
	SSLStatusPendingValidation SSLStatus = "pending_validation"
	SSLStatusActive            SSLStatus = "active"
	SSLStatusFailed            SSLStatus = "failed"
)

type VerificationMethod string

const (
	VerificationHTTP     VerificationMethod = "http"
	VerificationDNSTXT   VerificationMethod = "dns_txt"
	VerificationDNSCNAME VerificationMethod = "dns_cname"
)

// Valid reports whether m is a known verification method.
func (m VerificationMethod) Valid() bool {
	switch m {
	case VerificationHTTP, VerificationDNSTXT, VerificationDNSCNAME:
		return true
	}
	return false
}

// EdgeSSLMethod is the method name the edge platform expects for certificate validation.
func (m VerificationMethod) EdgeSSLMethod() string {
	switch m {
	case VerificationDNSTXT:
		return "txt"
	case VerificationDNSCNAME:
		return "cname"
	default:
		return "http"
	}
}

type CustomDomain struct {
	Domain             string             `json:"domain" db:"domain"`
	TenantID           string             `json:"tenant_id" db:"tenant_id"`
	Status             DomainStatus       `json:"status" db:"status"`
	SSLStatus          SSLStatus          `json:"ssl_status" db:"ssl_status"`
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	HostnameID         string             `json:"hostname_id,omitempty" db:"hostname_id"`
	VerificationName   string             `json:"verification_name,omitempty" db:"verification_name"`
	VerificationValue  string             `json:"verification_value,omitempty" db:"verification_value"`
	CNAMETarget        string             `json:"cname_target,omitempty" db:"cname_target"`
	ErrorMessage       *string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty" db:"verified_at"`
}

// Terminal reports whether the domain has reached active or failed.
func (d *CustomDomain) Terminal() bool {
	return d.Status == DomainStatusActive || d.Status == DomainStatusFailed
}

// SSLSettled reports whether the certificate has reached active or failed.
func (d *CustomDomain) SSLSettled() bool {
	return d.SSLStatus == SSLStatusActive || d.SSLStatus == SSLStatusFailed
}

// NeedsPolling reports whether the edge still has news for this domain: either
// the hostname is unverified or it is active while its certificate is issued.
func (d *CustomDomain) NeedsPolling() bool {
	return !d.Terminal() || (d.Status == DomainStatusActive && !d.SSLSettled())
}

func domainRank(s DomainStatus) int {
	switch s {
	case DomainStatusPending:
		return 0
	case DomainStatusPendingVerification:
		return 1
	case DomainStatusActive:
		return 2
	}
	return -1
}

// Advance returns the status after observing next. Transitions only move
// forward along pending -> pending_verification -> active; failed is reachable
// from the pending states only. Active and failed never change.
func (s DomainStatus) Advance(next DomainStatus) DomainStatus {
	if s == DomainStatusActive || s == DomainStatusFailed {
		return s
	}
	if next == DomainStatusFailed {
		return DomainStatusFailed
	}
	if domainRank(next) > domainRank(s) {
		return next
	}
	return s
}

func sslRank(s SSLStatus) int {
	switch s {
	case SSLStatusPending:
		return 0
	case SSLStatusPendingValidation:
		return 1
	case SSLStatusActive:
		return 2
	}
	return -1
}

// Advance applies the same monotonic rule as DomainStatus.Advance to the certificate sub-state.
func (s SSLStatus) Advance(next SSLStatus) SSLStatus {
	if s == SSLStatusActive || s == SSLStatusFailed {
		return s
	}
	if next == SSLStatusFailed {
		return SSLStatusFailed
	}
	if sslRank(next) > sslRank(s) {
		return next
	}
	return s
}

// VerificationInstructions tells a tenant what to publish to prove domain ownership.
type VerificationInstructions struct {
	Domain       string             `json:"domain"`
	Method       VerificationMethod `json:"verification_method"`
	Status       DomainStatus       `json:"status"`
	SSLStatus    SSLStatus          `json:"ssl_status"`
	CNAMETarget  string             `json:"cname_target"`
	RecordName   string             `json:"record_name,omitempty"`
	RecordValue  string             `json:"record_value,omitempty"`
	HTTPPath     string             `json:"http_path,omitempty"`
	HTTPBody     string             `json:"http_body,omitempty"`
	Instructions string             `json:"instructions"`
}

// InstructionsFor renders the instructions for a stored domain record.
func InstructionsFor(d *CustomDomain) *VerificationInstructions {
	in := &VerificationInstructions{
		Domain:      d.Domain,
		Method:      d.VerificationMethod,
		Status:      d.Status,
		SSLStatus:   d.SSLStatus,
		CNAMETarget: d.CNAMETarget,
	}

	text := fmt.Sprintf("1. Create a CNAME record: %s -> %s\n", d.Domain, d.CNAMETarget)
	switch d.VerificationMethod {
	case VerificationHTTP:
		in.HTTPPath = d.VerificationName
		in.HTTPBody = d.VerificationValue
		if in.HTTPPath != "" {
			text += fmt.Sprintf("2. Serve %q at %s\n", in.HTTPBody, in.HTTPPath)
		} else {
			text += "2. Keep the CNAME in place; the certificate is validated over HTTP automatically\n"
		}
	case VerificationDNSTXT:
		in.RecordName = d.VerificationName
		in.RecordValue = d.VerificationValue
		text += fmt.Sprintf("2. Create a TXT record: %s = %s\n", in.RecordName, in.RecordValue)
	case VerificationDNSCNAME:
		in.RecordName = d.VerificationName
		in.RecordValue = d.VerificationValue
		text += fmt.Sprintf("2. Create a CNAME record: %s -> %s\n", in.RecordName, in.RecordValue)
	}
	text += "DNS changes can take several minutes to propagate."
	in.Instructions = text
	return in
}
