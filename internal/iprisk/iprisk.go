// Package iprisk grades the client's network origin using an external
// IP intelligence service. Lookups never fail outward: any problem yields a
// degraded Result that is explicitly marked as unverified.
package iprisk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Verdict tags.
const (
	TagSuspicious = "suspicious: vpn/proxy/hosting"
	TagSafe       = "safe: residential/isp"
	TagFailed     = "unverified: lookup failed"
)

// AddressUnavailable is reported when the lookup could not be completed.
const AddressUnavailable = "unavailable"

const maxResponseBytes = 64 << 10

// DenyList holds well-known cloud, hosting and VPN operators. An AS
// descriptor containing any entry (case-insensitive) is suspicious. Entries
// shorter than minSubstringLen must start a word of the descriptor instead.
var DenyList = []string{
	"amazon",
	"google",
	"microsoft",
	"azure",
	"digitalocean",
	"linode",
	"akamai",
	"vultr",
	"choopa",
	"ovh",
	"hetzner",
	"oracle",
	"alibaba",
	"tencent",
	"cloudflare",
	"leaseweb",
	"contabo",
	"scaleway",
	"hostinger",
	"m247",
	"datacamp",
	"nordvpn",
	"expressvpn",
	"protonvpn",
	"surfshark",
	"mullvad",
	"privateinternetaccess",
	"cyberghost",
	"ipvanish",
}

// Result is the evaluated network origin of one request.
type Result struct {
	Address    string `json:"address"`
	Country    string `json:"country"`
	ISP        string `json:"isp"`
	Proxy      bool   `json:"proxy"`
	ASN        string `json:"asn"`
	Suspicious bool   `json:"suspicious"`
	Tag        string `json:"tag"`
}

// Fields returns the result flattened in canonical join order:
// address, country, isp, proxy, asn, suspicious, tag.
func (r Result) Fields() []string {
	return []string{
		r.Address,
		r.Country,
		r.ISP,
		strconv.FormatBool(r.Proxy),
		r.ASN,
		strconv.FormatBool(r.Suspicious),
		r.Tag,
	}
}

// Failed reports whether r is the degraded result of a failed lookup.
func (r Result) Failed() bool { return r.Tag == TagFailed }

// Degraded is returned whenever a lookup cannot be completed.
func Degraded() Result {
	return Result{Address: AddressUnavailable, ISP: "unknown", Tag: TagFailed}
}

// Lookup evaluates an IP address. Implementations must not return errors;
// failures are expressed as Degraded results.
type Lookup interface {
	Evaluate(ctx context.Context, ip string) Result
}

// providerResponse mirrors the fields we consume from the provider.
type providerResponse struct {
	Success    *bool  `json:"success"`
	Message    string `json:"message"`
	IP         string `json:"ip"`
	Country    string `json:"country"`
	Connection struct {
		ISP string `json:"isp"`
	} `json:"connection"`
	Proxy bool            `json:"proxy"`
	ASN   json.RawMessage `json:"asn"`
}

// Evaluator queries an ipwho.is-compatible endpoint: GET {BaseURL}/{ip}.
type Evaluator struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
	// Observe is called once per lookup with "ok" or "failed".
	Observe func(outcome string)
}

// NewEvaluator builds an evaluator with a bounded per-lookup timeout.
func NewEvaluator(baseURL string, timeout time.Duration, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, ip string) Result {
	res, err := e.lookup(ctx, ip)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		e.logger().Warn("ip risk lookup failed", "ip", ip, "error", err)
		res = Degraded()
	}
	if e.Observe != nil {
		e.Observe(outcome)
	}
	return res
}

func (e *Evaluator) lookup(ctx context.Context, ip string) (Result, error) {
	endpoint := e.BaseURL + "/"
	if ip != "" {
		endpoint += url.PathEscape(ip)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	if body.Success != nil && !*body.Success {
		return Result{}, fmt.Errorf("provider rejected lookup: %s", body.Message)
	}
	if body.IP == "" {
		return Result{}, fmt.Errorf("provider response missing ip")
	}
	return Classify(clean(body.IP), clean(body.Country), clean(body.Connection.ISP), body.Proxy, clean(asnString(body.ASN))), nil
}

// asnString accepts the descriptor as a string or a bare number.
func asnString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return "AS" + n.String()
	}
	return ""
}

// Classify derives the verdict from provider fields.
func Classify(address, country, isp string, proxy bool, asn string) Result {
	if isp == "" {
		isp = "unknown"
	}
	r := Result{
		Address: address,
		Country: country,
		ISP:     isp,
		Proxy:   proxy,
		ASN:     asn,
	}
	r.Suspicious = proxy || deniedASN(asn)
	if r.Suspicious {
		r.Tag = TagSuspicious
	} else {
		r.Tag = TagSafe
	}
	return r
}

// clean drops control characters from provider strings so they cannot
// forge field boundaries in the fingerprint join.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

const minSubstringLen = 4

func deniedASN(asn string) bool {
	lower := strings.ToLower(asn)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, provider := range DenyList {
		if len(provider) >= minSubstringLen {
			if strings.Contains(lower, provider) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, provider) {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
