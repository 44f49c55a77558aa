package certstore

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RenewBefore is the window before expiry in which a certificate is renewed.
const RenewBefore = 21 * 24 * time.Hour

// TimeLayout is the validity timestamp format used by the runtime,
// e.g. "Jun  5 19:46:19 2025 GMT".
const TimeLayout = "Jan _2 15:04:05 2006 MST"

// Name is a certificate subject or issuer.
type Name struct {
	CommonName   string   `json:"common_name,omitempty"`
	AltNames     []string `json:"alt_names,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// Validity is the certificate's validity window.
type Validity struct {
	Since time.Time
	Until time.Time
}

type wireValidity struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan _2 15:04:05 2006") + " GMT"
}

// MarshalJSON encodes the window in the runtime's timestamp format.
func (v Validity) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireValidity{Since: formatTime(v.Since), Until: formatTime(v.Until)})
}

// UnmarshalJSON decodes the runtime's timestamp format.
func (v *Validity) UnmarshalJSON(data []byte) error {
	var w wireValidity
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	since, err := ParseTime(w.Since)
	if err != nil {
		return fmt.Errorf("since: %w", err)
	}
	until, err := ParseTime(w.Until)
	if err != nil {
		return fmt.Errorf("until: %w", err)
	}
	v.Since, v.Until = since, until
	return nil
}

// ParseTime parses a runtime validity timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Info describes one certificate of a stored chain.
type Info struct {
	Subject  Name     `json:"subject"`
	Issuer   Name     `json:"issuer"`
	Validity Validity `json:"validity"`
}

// InfoFromX509 derives the runtime's view of a parsed certificate.
func InfoFromX509(c *x509.Certificate) Info {
	info := Info{
		Subject: Name{CommonName: c.Subject.CommonName, AltNames: c.DNSNames},
		Issuer:  Name{CommonName: c.Issuer.CommonName},
		Validity: Validity{
			Since: c.NotBefore.UTC().Truncate(time.Second),
			Until: c.NotAfter.UTC().Truncate(time.Second),
		},
	}
	if len(c.Subject.Organization) > 0 {
		info.Subject.Organization = c.Subject.Organization[0]
	}
	if len(c.Issuer.Organization) > 0 {
		info.Issuer.Organization = c.Issuer.Organization[0]
	}
	return info
}

// NeedsRenewal reports whether the certificate expires within RenewBefore
// of now. The boundary is inclusive.
func (i Info) NeedsRenewal(now time.Time) bool {
	return i.Validity.Until.Sub(now) <= RenewBefore
}

// Expired reports whether the certificate is no longer valid at now.
func (i Info) Expired(now time.Time) bool {
	return !now.Before(i.Validity.Until)
}

// Entry is one stored bundle as listed by the runtime.
type Entry struct {
	Key   string `json:"key"`
	Chain []Info `json:"chain"`
}

// Leaf returns the first certificate of the chain.
func (e Entry) Leaf() (Info, error) {
	if len(e.Chain) == 0 {
		return Info{}, ErrEmptyChain
	}
	return e.Chain[0], nil
}
