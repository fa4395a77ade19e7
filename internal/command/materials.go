// SPDX-License-Identifier: MIT
package command

import "strings"

// materialCodes maps a material-type string to the hardware code the
// feeder firmware stores per slot. The set mirrors the vendor's generic
// filament profiles; vendor-branded spools carry their own code on the
// RFID tag and never pass through here.
var materialCodes = map[string]string{
	"PLA":    "GFL99",
	"PLA-CF": "GFL98",
	"PETG":   "GFG99",
	"PET-CF": "GFT98",
	"ABS":    "GFB99",
	"ASA":    "GFB98",
	"TPU":    "GFU99",
	"PC":     "GFC99",
	"PA":     "GFN99",
	"PA-CF":  "GFN98",
	"NYLON":  "GFN99",
	"PVA":    "GFS99",
	"HIPS":   "GFS98",
}

// genericMaterialCode is used when a material string has no table entry.
// The firmware treats it as unbranded PLA-class filament.
const genericMaterialCode = "GFL99"

// MaterialCode resolves a material-type string to its hardware code.
func MaterialCode(material string) string {
	key := strings.ToUpper(strings.TrimSpace(material))
	if code, ok := materialCodes[key]; ok {
		return code
	}
	return genericMaterialCode
}
