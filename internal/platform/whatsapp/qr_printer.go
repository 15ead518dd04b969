package whatsapp

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// PrintQRASCII renders the pairing code in a compact half-block form for
// terminal scanning.
func PrintQRASCII(w io.Writer, code string) error {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}
	qr.DisableBorder = true
	bmp := qr.Bitmap()
	if len(bmp)%2 == 1 {
		width := 0
		if len(bmp) > 0 {
			width = len(bmp[0])
		}
		bmp = append(bmp, make([]bool, width))
	}

	var out strings.Builder
	out.WriteString("\n[QR] scan to pair the council bot:\n")
	for y := 0; y < len(bmp); y += 2 {
		top, bottom := bmp[y], bmp[y+1]
		for x := 0; x < len(top); x++ {
			switch t, b := top[x], bottom[x]; {
			case t && b:
				out.WriteRune('█')
			case t:
				out.WriteRune('▀')
			case b:
				out.WriteRune('▄')
			default:
				out.WriteRune(' ')
			}
		}
		out.WriteByte('\n')
	}
	out.WriteByte('\n')
	_, err = io.WriteString(w, out.String())
	return err
}

// QRDataURL encodes the pairing code as a PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
