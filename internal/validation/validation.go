// Package validation содержит функции валидации входных данных.
package validation

// IsValidOrderID проверяет формат идентификатора заказа: непустая строка
// до 64 символов из латинских букв, цифр, дефиса и подчёркивания.
func IsValidOrderID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}

	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}

// IsValidAffiliateCode проверяет формат партнёрского кода: 3–32 символа,
// заглавные латинские буквы, цифры и дефис не по краям.
func IsValidAffiliateCode(code string) bool {
	if len(code) < 3 || len(code) > 32 {
		return false
	}
	if code[0] == '-' || code[len(code)-1] == '-' {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}

	return true
}
