package pipeline

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// UnknownFlag is rendered for country codes outside the ISO table.
const UnknownFlag = "❓"

// isoCountries lists the ISO 3166-1 alpha-2 codes that have a flag.
var isoCountries = buildCountrySet(`
AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ BA BB BD BE BF BG BH BI BJ BL
BM BN BO BQ BR BS BT BV BW BY BZ CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV
CW CX CY CZ DE DJ DK DM DO DZ EC EE EG EH ER ES ET FI FJ FK FM FO FR GA GB GD
GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY HK HM HN HR HT HU ID IE IL IM
IN IO IQ IR IS IT JE JM JO JP KE KG KH KI KM KN KP KR KW KY KZ LA LB LC LI LK
LR LS LT LU LV LY MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW
MX MY MZ NA NC NE NF NG NI NL NO NP NR NU NZ OM PA PE PF PG PH PK PL PM PN PR
PS PT PW PY QA RE RO RS RU RW SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS
ST SV SX SY SZ TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ UA UG UM US UY
UZ VA VC VE VG VI VN VU WF WS XK YE YT ZA ZM ZW`)

func buildCountrySet(list string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, code := range strings.Fields(list) {
		set[code] = struct{}{}
	}
	return set
}

// Flag returns the emoji flag for a two-letter country code, or
// UnknownFlag for anything not in the table.
func Flag(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := isoCountries[code]; !ok {
		return UnknownFlag
	}
	// Regional indicator symbols start at U+1F1E6 for 'A'.
	var b strings.Builder
	for _, r := range code {
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// MaskDID hides the middle of a phone number. All-digit numbers of at
// least 7 digits keep the first 4 and last 3 digits around "****";
// anything else is returned unchanged.
func MaskDID(did string) string {
	if len(did) < 7 || !allDigits(did) {
		return did
	}
	return did[:4] + "****" + did[len(did)-3:]
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Caption is everything the composed message depends on.
type Caption struct {
	CountryName     string
	CountryCode     string
	DID             string
	DurationSeconds int64
	At              time.Time
	// Code is the detected verification code; empty omits the line.
	Code string
}

// Compose renders the HTML caption. Output depends only on c.
func Compose(c Caption) string {
	country := html.EscapeString(c.CountryName)
	flag := Flag(c.CountryCode)

	var b strings.Builder
	fmt.Fprintf(&b, "🔥 <b>NEW CALL %s %s</b>\n", html.EscapeString(strings.ToUpper(c.CountryName)), flag)
	b.WriteString(strings.Repeat("━", 18) + "\n")
	fmt.Fprintf(&b, "🌍 Country: %s %s\n", country, flag)
	did := strings.TrimPrefix(strings.TrimSpace(c.DID), "+")
	fmt.Fprintf(&b, "📞 DID: +%s\n", html.EscapeString(MaskDID(did)))
	fmt.Fprintf(&b, "⏳ Duration: %ds\n", c.DurationSeconds)
	fmt.Fprintf(&b, "⏰ Time: %s", c.At.Format("03:04:05 PM"))
	if c.Code != "" {
		fmt.Fprintf(&b, "\n🔑 Code: <code>%s</code>", html.EscapeString(c.Code))
	}
	return b.String()
}
