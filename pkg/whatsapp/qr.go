package whatsapp

import (
	"encoding/base64"
	"io"

	"github.com/mdp/qrterminal/v3"
	qrCode "github.com/skip2/go-qrcode"
)

// QRDataURL renders a pairing code as a PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := qrCode.Encode(code, qrCode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// PrintQR writes a pairing code to a terminal.
func PrintQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
