// Package pix формирует статический BR Code (PIX "copia e cola") по стандарту EMV MPM.
package pix

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	idPayloadFormat        = "00"
	idMerchantAccount      = "26"
	idMerchantCategoryCode = "52"
	idTransactionCurrency  = "53"
	idTransactionAmount    = "54"
	idCountryCode          = "58"
	idMerchantName         = "59"
	idMerchantCity         = "60"
	idAdditionalData       = "62"
	idCRC16                = "63"

	idAccountGUI = "00"
	idAccountKey = "01"
	idTxID       = "05"

	pixGUI        = "br.gov.bcb.pix"
	currencyBRL   = "986"
	maxNameLength = 25
	maxCityLength = 15
	maxTxIDLength = 25
	defaultTxID   = "***"
)

// Payment описывает получателя и сумму платежа.
type Payment struct {
	Key          string
	MerchantName string
	MerchantCity string
	Amount       float64
	TxID         string
}

// Payload собирает строку BR Code с контрольной суммой.
func Payload(p Payment) (string, error) {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return "", fmt.Errorf("pix key is required")
	}
	if p.Amount < 0 {
		return "", fmt.Errorf("amount must be non-negative")
	}

	name := truncate(sanitize(p.MerchantName), maxNameLength)
	city := truncate(sanitize(p.MerchantCity), maxCityLength)
	if name == "" || city == "" {
		return "", fmt.Errorf("merchant name and city are required")
	}

	txid := truncate(alnum(p.TxID), maxTxIDLength)
	if txid == "" {
		txid = defaultTxID
	}

	var b strings.Builder
	b.WriteString(field(idPayloadFormat, "01"))
	b.WriteString(field(idMerchantAccount, field(idAccountGUI, pixGUI)+field(idAccountKey, key)))
	b.WriteString(field(idMerchantCategoryCode, "0000"))
	b.WriteString(field(idTransactionCurrency, currencyBRL))
	if p.Amount > 0 {
		b.WriteString(field(idTransactionAmount, fmt.Sprintf("%.2f", p.Amount)))
	}
	b.WriteString(field(idCountryCode, "BR"))
	b.WriteString(field(idMerchantName, name))
	b.WriteString(field(idMerchantCity, city))
	b.WriteString(field(idAdditionalData, field(idTxID, txid)))
	b.WriteString(idCRC16 + "04")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", CRC16(payload)), nil
}

// CRC16 считает CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func CRC16(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func field(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// sanitize убирает диакритику: "São Paulo" -> "SAO PAULO".
func sanitize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, out)
	return strings.ToUpper(strings.TrimSpace(out))
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
