package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
	"go-degen-pov/pkg/models"
	"go-degen-pov/pkg/validation"
)

type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (*models.SourceImage, error)
}

// FetcherOptions configures HTTPImageFetcher
type FetcherOptions struct {
	Timeout      time.Duration // per fetch, across all attempts
	MaxAttempts  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	MaxBytes     int64
	MaxPixels    int
	AllowedHosts []string
	UserAgent    string
}

// DefaultFetcherOptions returns the default fetch policy
func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		Timeout:      15 * time.Second,
		MaxAttempts:  3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 4 * time.Second,
		MaxBytes:     10 * 1024 * 1024,
		MaxPixels:    validation.DefaultImageLimits().MaxPixels,
		UserAgent:    "Go-Degen-POV/1.0",
	}
}

// HTTPImageFetcher downloads and decodes untrusted remote images
type HTTPImageFetcher struct {
	client       *retryablehttp.Client
	urlValidator *validation.URLValidator
	imgValidator *validation.ImageValidator
	opts         FetcherOptions
}

type attemptCounterKey struct{}

// NewHTTPImageFetcher creates an HTTP image fetcher with bounded retries
func NewHTTPImageFetcher(opts FetcherOptions) *HTTPImageFetcher {
	defaults := DefaultFetcherOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaults.RetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaults.MaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	urlValidator := validation.NewURLValidatorWithOptions(nil, opts.AllowedHosts)

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 16 << 10,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return apperrors.NewFetchError("too many redirects (limit: 3)", nil)
			}
			return urlValidator.ValidateImageURL(req.URL.String())
		},
	}
	client.RetryMax = opts.MaxAttempts - 1
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.Backoff = jitteredBackoff
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = NewRetryLogger(logger.Logger)
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if counter, ok := req.Context().Value(attemptCounterKey{}).(*atomic.Int32); ok {
			counter.Add(1)
		}
		if attempt > 0 {
			logger.WithFields(logrus.Fields{
				"url_host": req.URL.Host,
				"attempt":  attempt + 1,
			}).Warn("Retrying image fetch")
		}
	}

	return &HTTPImageFetcher{
		client:       client,
		urlValidator: urlValidator,
		imgValidator: validation.NewImageValidatorWithLimits(validation.ImageLimits{MaxPixels: opts.MaxPixels}),
		opts:         opts,
	}
}

// FetchImage downloads imageURL and decodes it into a SourceImage.
// Transient failures are retried up to MaxAttempts; input errors never are.
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (*models.SourceImage, error) {
	if err := h.urlValidator.ValidateImageURL(imageURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	attempts := &atomic.Int32{}
	ctx = context.WithValue(ctx, attemptCounterKey{}, attempts)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(imageURL), nil)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("Invalid URL format", stripURL(err))
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", h.opts.UserAgent)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("image fetch timed out", ctx.Err())
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			// redirect rejected by CheckRedirect
			return nil, appErr
		}
		return nil, apperrors.NewFetchError(
			fmt.Sprintf("failed to fetch image after %d attempts", attempts.Load()), stripURL(err))
	}
	defer resp.Body.Close()

	fields := logrus.Fields{
		"url_host":    req.URL.Host,
		"attempts":    attempts.Load(),
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logger.WithFields(fields).Warn("Image fetch rejected by upstream")
		return nil, apperrors.NewFetchError(
			fmt.Sprintf("client error: status code %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		msg := "Image fetch failed with server error"
		if attempts.Load() > 1 {
			msg = "Image fetch failed after retries"
		}
		logger.WithFields(fields).Warn(msg)
		return nil, apperrors.NewFetchError(
			fmt.Sprintf("failed to fetch image after %d attempts: server error: status code %d",
				attempts.Load(), resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewFetchError(
			fmt.Sprintf("unexpected status code %d", resp.StatusCode), nil)
	}

	if err := checkContentType(resp.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	if resp.ContentLength > h.opts.MaxBytes {
		return nil, apperrors.NewPayloadTooLargeError(
			fmt.Sprintf("image is %d bytes, limit is %d", resp.ContentLength, h.opts.MaxBytes), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("image download timed out", ctx.Err())
		}
		return nil, apperrors.NewFetchError("failed to read image body", stripURL(err))
	}
	if int64(len(data)) > h.opts.MaxBytes {
		return nil, apperrors.NewPayloadTooLargeError(
			fmt.Sprintf("image exceeds %d bytes", h.opts.MaxBytes), nil)
	}

	src, err := h.decode(data)
	if err != nil {
		return nil, err
	}

	fields["bytes"] = len(data)
	fields["format"] = src.Format
	fields["width"] = src.Width
	fields["height"] = src.Height
	logger.WithFields(fields).Debug("Image fetched")
	return src, nil
}

func (h *HTTPImageFetcher) decode(data []byte) (*models.SourceImage, error) {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, apperrors.NewDecodeError(
			fmt.Sprintf("content is %s, not an image", detected.String()), nil)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("unsupported or corrupt image", err)
	}
	if err := h.imgValidator.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}
	src := models.NewSourceImage(img, format, len(data))
	if src.Width == 0 || src.Height == 0 {
		return nil, apperrors.NewInvalidInputError("image has no pixels", nil)
	}
	return src, nil
}

// checkContentType accepts image/*, application/octet-stream and a missing header.
// The body is sniffed afterwards in every case.
func checkContentType(header string) error {
	if header == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return apperrors.NewInvalidInputError("invalid content type", err)
	}
	if strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream" {
		return nil
	}
	return apperrors.NewInvalidInputError(fmt.Sprintf("unsupported content type %q", mediaType), nil)
}

// checkRetry never retries errors the fetcher raised itself. Transport
// errors follow the default policy; every 5xx is retried and no 4xx is.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return false, err
	}
	retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	if err != nil || resp == nil || ctx.Err() != nil {
		return retry, policyErr
	}
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, nil
	case resp.StatusCode >= 500:
		return true, nil
	}
	return retry, policyErr
}

// jitteredBackoff is exponential with equal jitter, honouring Retry-After on 503
func jitteredBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("Retry-After") != "" {
			return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		}
	}

	base := float64(min) * math.Pow(2, float64(attemptNum))
	if base > float64(max) || math.IsInf(base, 0) {
		base = float64(max)
	}
	half := int64(base / 2)
	if half <= 0 {
		return time.Duration(base)
	}
	return time.Duration(half + rand.Int63n(half+1))
}

// stripURL drops the request URL from net/http errors so it never reaches the logs
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}
