package infra

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// LogoDownloader handles downloading and caching company logos
type LogoDownloader struct {
	basePath string
	client   *http.Client
}

// NewLogoDownloader creates a new LogoDownloader caching under baseDir
func NewLogoDownloader(baseDir string) (*LogoDownloader, error) {
	path := filepath.Join(baseDir, "logos")
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logo directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &LogoDownloader{
		basePath: path,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Download fetches the logo at logoURL for a symbol if not cached yet.
// Returns the local file path on success.
// Images are resized to 64x64 pixels for consistent display.
func (d *LogoDownloader) Download(symbol, logoURL string) (string, error) {
	// Security: Sanitize symbol to prevent path traversal
	safeSymbol := sanitizeSymbol(symbol)
	if safeSymbol == "" {
		return "", fmt.Errorf("invalid symbol: %s", symbol)
	}
	if logoURL == "" {
		return "", fmt.Errorf("no logo URL for %s", symbol)
	}

	fileName := strings.ToLower(safeSymbol) + ".png"
	filePath := filepath.Join(d.basePath, fileName)

	// Check if exists
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Already exists (Cache Hit)
	}

	resp, err := d.client.Get(logoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	// Decode the image
	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Resize to 64x64 with high-quality Lanczos filter
	resizedImg := imaging.Resize(srcImg, 64, 64, imaging.Lanczos)

	if err := imaging.Save(resizedImg, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}

	return filePath, nil
}

// Path returns the local path for a symbol's logo
func (d *LogoDownloader) Path(symbol string) string {
	return filepath.Join(d.basePath, strings.ToLower(sanitizeSymbol(symbol))+".png")
}

func sanitizeSymbol(symbol string) string {
	res := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
