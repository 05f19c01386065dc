package session

// Коды тонов RFC 4733 для публичных цифр. '+' передаётся как 16.
var digitTones = map[rune]int{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4,
	'5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
	'*': 10, '#': 11,
	'A': 12, 'B': 13, 'C': 14, 'D': 15,
	'+': 16,
}

// ToneForDigit переводит цифру в код тона. Строчные A-D принимаются.
// Для неизвестной цифры возвращает -1, false.
func ToneForDigit(digit rune) (int, bool) {
	if digit >= 'a' && digit <= 'd' {
		digit -= 'a' - 'A'
	}
	tone, ok := digitTones[digit]
	if !ok {
		return -1, false
	}
	return tone, true
}
