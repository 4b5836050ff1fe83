package model

import "strings"

// Buyer identification type codes
const (
	IDTypeRUC           = "04"
	IDTypeCedula        = "05"
	IDTypePassport      = "06"
	IDTypeFinalConsumer = "07"
	IDTypeForeign       = "08"
)

// FinalConsumerID is the fixed identification used with IDTypeFinalConsumer.
const FinalConsumerID = "9999999999999"

// ValidCedula reports whether the string is a valid Ecuadorian cedula
// (10 digits, province prefix 01-24, mod-10 check digit).
func ValidCedula(cedula string) bool {
	if len(cedula) != 10 || !allDigits(cedula) {
		return false
	}

	province := int(cedula[0]-'0')*10 + int(cedula[1]-'0')
	if province < 1 || province > 24 {
		return false
	}
	if cedula[2]-'0' > 6 {
		return false
	}

	coefficients := []int{2, 1, 2, 1, 2, 1, 2, 1, 2}
	sum := 0
	for i := 0; i < 9; i++ {
		v := int(cedula[i]-'0') * coefficients[i]
		if v > 9 {
			v -= 9
		}
		sum += v
	}
	check := (10 - sum%10) % 10

	return check == int(cedula[9]-'0')
}

// ValidRUCFormat reports whether the string has the shape of a RUC:
// 13 digits ending in "001". It does not verify the check digit.
func ValidRUCFormat(ruc string) bool {
	return len(ruc) == 13 && allDigits(ruc) && strings.HasSuffix(ruc, "001")
}

// ValidRUC reports whether the string is a valid Ecuadorian RUC. Natural
// persons validate as cedula + "001"; public entities (third digit 6) and
// private companies (third digit 9) use their own mod-11 check digits.
func ValidRUC(ruc string) bool {
	if len(ruc) != 13 || !allDigits(ruc) {
		return false
	}
	if !strings.HasSuffix(ruc, "001") {
		return false
	}

	switch third := ruc[2] - '0'; {
	case third < 6:
		return ValidCedula(ruc[:10])
	case third == 6:
		return validRUCCheck(ruc, []int{3, 2, 7, 6, 5, 4, 3, 2}, 8)
	case third == 9:
		return validRUCCheck(ruc, []int{4, 3, 2, 7, 6, 5, 4, 3, 2}, 9)
	default:
		return false
	}
}

// validRUCCheck runs the mod-11 check digit used by public and private RUCs;
// the check digit sits immediately after the weighted prefix.
func validRUCCheck(ruc string, coefficients []int, checkPos int) bool {
	sum := 0
	for i, c := range coefficients {
		sum += int(ruc[i]-'0') * c
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	} else if check == 10 {
		check = 1
	}
	return check == int(ruc[checkPos]-'0')
}

// ValidBuyerID reports whether the identification matches its declared type.
// Passport and foreign IDs are free-form; final consumer must use the fixed
// thirteen-nines identification.
func ValidBuyerID(idType, id string) bool {
	switch idType {
	case IDTypeRUC:
		return ValidRUC(id)
	case IDTypeCedula:
		return ValidCedula(id)
	case IDTypeFinalConsumer:
		return id == FinalConsumerID
	case IDTypePassport, IDTypeForeign:
		return id != ""
	default:
		return false
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
