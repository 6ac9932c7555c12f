package input

// Layout remaps the runes a US-mapped console keymap produces into the
// characters printed on the physical keyboard. The console on the board
// always runs the US keymap, so users with other keyboards pick their
// layout once and the preference is persisted next to the documents.
type Layout struct {
	name string
	m    map[rune]rune
}

// Name returns the layout identifier used for persistence.
func (l *Layout) Name() string { return l.name }

// Remap translates one rune; unmapped runes pass through.
func (l *Layout) Remap(r rune) rune {
	if l.m == nil {
		return r
	}
	if out, ok := l.m[r]; ok {
		return out
	}
	return r
}

// Key positions as the US keymap reports them, unshifted and shifted.
const (
	usPlain = "qwertyuiop[]asdfghjkl;'zxcvbnm,./"
	usShift = "QWERTYUIOP{}ASDFGHJKL:\"ZXCVBNM<>?"
)

func mapped(name, plain, shift string, extra map[rune]rune) *Layout {
	m := make(map[rune]rune, len(usPlain)+len(extra))
	addPairs(m, usPlain, plain)
	addPairs(m, usShift, shift)
	for from, to := range extra {
		m[from] = to
	}
	return &Layout{name: name, m: m}
}

func addPairs(m map[rune]rune, from, to string) {
	f, t := []rune(from), []rune(to)
	for i := range f {
		if f[i] != t[i] {
			m[f[i]] = t[i]
		}
	}
}

var layouts = []*Layout{
	{name: "us"},
	mapped("uk", usPlain, usShift, map[rune]rune{
		'@': '"', '"': '@', '#': '£', '~': '¬',
	}),
	mapped("de",
		"qwertzuiopü+asdfghjklöäyxcvbnm,.-",
		"QWERTZUIOPÜ*ASDFGHJKLÖÄYXCVBNM;:_",
		map[rune]rune{
			'@': '"', '#': '§', '^': '&', '&': '/', '*': '(', '(': ')', ')': '=',
		}),
	mapped("fr",
		"azertyuiop^$qsdfghjklmùwxcvbn,;:!",
		"AZERTYUIOP¨£QSDFGHJKLM%WXCVBN?./§",
		map[rune]rune{
			// AZERTY digits are shifted; the US digit row produces the
			// unshifted symbols instead.
			'1': '&', '2': 'é', '3': '"', '4': '\'', '5': '(',
			'6': '-', '7': 'è', '8': '_', '9': 'ç', '0': 'à',
			'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
			'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
		}),
	mapped("es",
		"qwertyuiop`+asdfghjklñ´zxcvbnm,.-",
		"QWERTYUIOP^*ASDFGHJKLÑ¨ZXCVBNM;:_",
		nil),
	mapped("it",
		"qwertyuiopè+asdfghjklòàzxcvbnm,.-",
		"QWERTYUIOPé*ASDFGHJKLç°ZXCVBNM;:_",
		nil),
	mapped("se",
		"qwertyuiopå¨asdfghjklöäzxcvbnm,.-",
		"QWERTYUIOPÅ^ASDFGHJKLÖÄZXCVBNM;:_",
		nil),
	mapped("no",
		"qwertyuiopå¨asdfghjkløæzxcvbnm,.-",
		"QWERTYUIOPÅ^ASDFGHJKLØÆZXCVBNM;:_",
		nil),
	mapped("dvorak",
		"',.pyfgcrl/=aoeuidhtns-;qjkxbmwvz",
		"\"<>PYFGCRL?+AOEUIDHTNS_:QJKXBMWVZ",
		nil),
	mapped("colemak",
		"qwfpgjluy;[]arstdhneio'zxcvbkm,./",
		"QWFPGJLUY:{}ARSTDHNEIO\"ZXCVBKM<>?",
		nil),
}

// Layouts returns the selectable layout names in picker order.
func Layouts() []string {
	names := make([]string, len(layouts))
	for i, l := range layouts {
		names[i] = l.name
	}
	return names
}

// LayoutByName returns the named layout, falling back to "us" for
// unknown (or empty) names.
func LayoutByName(name string) *Layout {
	for _, l := range layouts {
		if l.name == name {
			return l
		}
	}
	return layouts[0]
}
