package auth

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod   = 30
	totpSkew     = 1
	qrCodeSizePx = 200
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorEnrollment is handed to the administrator once, at setup.
type TwoFactorEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCodeURL  string `json:"qr_code_url"`
}

// ValidateTOTP checks a six digit SHA1 code against the base32 secret,
// accepting the current 30-second step and one step either side.
func ValidateTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totpValidateOpts)
	return err == nil && ok
}

// GenerateTOTPCode returns the code for secret at the given instant.
func GenerateTOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), totpValidateOpts)
}

func newEnrollment(issuer, account string) (TwoFactorEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}
	img, err := key.Image(qrCodeSizePx, qrCodeSizePx)
	if err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("encode qr code: %w", err)
	}
	return TwoFactorEnrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodeURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
