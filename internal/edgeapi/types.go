package edgeapi

import "encoding/json"

// API error code returned when a custom hostname already exists in the zone.
const codeDuplicateHostname = 1406

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

// SSLSettings mirrors the ssl.settings block of a custom hostname.
type SSLSettings struct {
	HTTP2         string `json:"http2,omitempty"`
	MinTLSVersion string `json:"min_tls_version,omitempty"`
	TLS13         string `json:"tls_1_3,omitempty"`
}

type sslRequest struct {
	Method   string      `json:"method"`
	Type     string      `json:"type"`
	Settings SSLSettings `json:"settings"`
}

type createHostnameRequest struct {
	Hostname string     `json:"hostname"`
	SSL      sslRequest `json:"ssl"`
}

type ValidationRecord struct {
	TxtName     string `json:"txt_name,omitempty"`
	TxtValue    string `json:"txt_value,omitempty"`
	HTTPURL     string `json:"http_url,omitempty"`
	HTTPBody    string `json:"http_body,omitempty"`
	CNAME       string `json:"cname,omitempty"`
	CNAMETarget string `json:"cname_target,omitempty"`
}

type SSL struct {
	Status            string             `json:"status"`
	Method            string             `json:"method"`
	ValidationRecords []ValidationRecord `json:"validation_records,omitempty"`
	ValidationErrors  []apiMessage       `json:"validation_errors,omitempty"`
}

type OwnershipVerification struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type OwnershipVerificationHTTP struct {
	HTTPURL  string `json:"http_url"`
	HTTPBody string `json:"http_body"`
}

// CustomHostname is the subset of the custom hostname object this service reads.
type CustomHostname struct {
	ID                        string                     `json:"id"`
	Hostname                  string                     `json:"hostname"`
	Status                    string                     `json:"status"`
	SSL                       SSL                        `json:"ssl"`
	VerificationErrors        []string                   `json:"verification_errors,omitempty"`
	OwnershipVerification     *OwnershipVerification     `json:"ownership_verification,omitempty"`
	OwnershipVerificationHTTP *OwnershipVerificationHTTP `json:"ownership_verification_http,omitempty"`
}

// ValidationErrorMessages flattens ssl and hostname verification errors.
func (h *CustomHostname) ValidationErrorMessages() []string {
	out := append([]string(nil), h.VerificationErrors...)
	for _, m := range h.SSL.ValidationErrors {
		out = append(out, m.Message)
	}
	return out
}

// Route binds a URL pattern to a worker script.
type Route struct {
	ID      string `json:"id,omitempty"`
	Pattern string `json:"pattern"`
	Script  string `json:"script,omitempty"`
}

type scriptMetadata struct {
	MainModule        string          `json:"main_module"`
	CompatibilityDate string          `json:"compatibility_date,omitempty"`
	Bindings          []ScriptBinding `json:"bindings,omitempty"`
}

// ScriptBinding is a worker binding such as an R2 bucket or a plain text variable.
type ScriptBinding struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	BucketName string `json:"bucket_name,omitempty"`
	Text       string `json:"text,omitempty"`
}
