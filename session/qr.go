package session

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrDataURL renders raw into a PNG data URL, generalizing the teacher's
// terminal QR rendering (qrcode.New(...).ToSmallString) into something
// that can be shipped to the control plane's status endpoint instead of
// printed to a console.
func qrDataURL(raw string) (string, error) {
	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
