package platforms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// sigV4Service is the AWS service name the Selling Partner API is signed for
const sigV4Service = "execute-api"

// signV4 computes an AWS Signature Version 4 for the request and sets the
// Authorization and x-amz-date headers. The payload hash must be the hex
// SHA-256 of the request body (the empty-body hash for GETs).
func signV4(req *http.Request, accessKeyID, secretKey, region string, payloadHash string, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	if req.Header.Get("host") == "" {
		req.Header.Set("host", req.URL.Host)
	}

	signedHeaders, canonicalHeaders := canonicalizeHeaders(req)

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, region, sigV4Service, "aws4_request"}, "/")

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	// Derive the signing key: date key -> region key -> service key -> signing key
	dateKey := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	regionKey := hmacSHA256(dateKey, region)
	serviceKey := hmacSHA256(regionKey, sigV4Service)
	signingKey := hmacSHA256(serviceKey, "aws4_request")

	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authorization := "AWS4-HMAC-SHA256 Credential=" + accessKeyID + "/" + credentialScope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature
	req.Header.Set("Authorization", authorization)
}

// hexSHA256 returns the lowercase hex SHA-256 digest of data
func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hmacSHA256 computes HMAC-SHA256 of message with key
func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// canonicalURI returns the URI-encoded request path, or "/" when empty
func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.EscapedPath()
}

// canonicalQuery returns the query parameters sorted by key with
// percent-encoded keys and values
func canonicalQuery(u *url.URL) string {
	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, escapeV4(k)+"="+escapeV4(v))
		}
	}
	return strings.Join(parts, "&")
}

// escapeV4 percent-encodes per the SigV4 rules (space as %20, '/' encoded)
func escapeV4(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return escaped
}

// canonicalizeHeaders returns the signed-header list and the canonical
// header block: lowercase names, sorted, values trimmed
func canonicalizeHeaders(req *http.Request) (string, string) {
	names := make([]string, 0, len(req.Header)+1)
	seen := make(map[string]string)

	for name := range req.Header {
		lower := strings.ToLower(name)
		names = append(names, lower)
		seen[lower] = strings.TrimSpace(req.Header.Get(name))
	}
	if _, ok := seen["host"]; !ok {
		names = append(names, "host")
		seen["host"] = req.URL.Host
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		builder.WriteString(name)
		builder.WriteString(":")
		builder.WriteString(seen[name])
		builder.WriteString("\n")
	}
	return strings.Join(names, ";"), builder.String()
}
