package ocr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// IsImageMIMEType checks if the given MIME type is a supported page image type
func IsImageMIMEType(mimeType string) bool {
	supportedTypes := map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
		"image/tiff": true,
		"image/bmp":  true,
		"image/webp": true,
	}
	return supportedTypes[mimeType]
}

// newHTTPClient builds the retryable client shared by HTTP backed providers.
// Once retries are exhausted the last response is handed back to the caller
// so its status and body end up in the returned error.
func newHTTPClient(retries int, waitMax time.Duration, logger *logrus.Entry) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = waitMax
	client.Logger = logger
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// bearerTransport wraps a RoundTripper to add the Authorization header.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

// RoundTrip implements the RoundTripper interface to modify the request.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid side effects
	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.token))
	return t.base.RoundTrip(reqClone)
}

// withBearerToken installs a bearer token transport on the client's
// underlying http.Client.
func withBearerToken(client *retryablehttp.Client, token string) {
	base := client.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.HTTPClient.Transport = &bearerTransport{base: base, token: token}
}
