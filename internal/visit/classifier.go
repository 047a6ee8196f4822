package visit

import (
	"context"
	"strings"
)

// NopClassifier classifies nothing. Default when no external classifier is
// configured; every field stays empty.
type NopClassifier struct{}

func (NopClassifier) Classify(ctx context.Context, ip, userAgent string) (Classification, error) {
	return Classification{}, nil
}

// UAClassifier derives device, browser and platform from user-agent
// substrings. It intentionally knows nothing about geography; a deployment
// with a geo provider wraps or replaces it.
type UAClassifier struct{}

var _ Classifier = UAClassifier{}

func (UAClassifier) Classify(ctx context.Context, ip, userAgent string) (Classification, error) {
	ua := strings.ToLower(userAgent)
	c := Classification{}
	if ua == "" {
		return c, nil
	}

	switch {
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider"):
		c.DeviceType = "robot"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		c.DeviceType = "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		c.DeviceType = "mobile"
	default:
		c.DeviceType = "desktop"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		c.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		c.Browser = "Opera"
	case strings.Contains(ua, "chrome/"):
		c.Browser = "Chrome"
	case strings.Contains(ua, "firefox/"):
		c.Browser = "Firefox"
	case strings.Contains(ua, "safari/"):
		c.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		c.Platform = "Windows"
	case strings.Contains(ua, "android"):
		c.Platform = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		c.Platform = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		c.Platform = "macOS"
	case strings.Contains(ua, "linux"):
		c.Platform = "Linux"
	}

	return c, nil
}
