package linters

// FlakeSkipCodes are flake8 codes never surfaced to solvers.
var FlakeSkipCodes = map[string]bool{
	"T001": true, // print found
	"W292": true, // no newline at end of file
}

// FlakeMessages rewrites known flake8 codes into solver-friendly texts.
// Codes not listed fall back to "CODE-original message".
var FlakeMessages = map[string]string{
	"E999": "When our checker tried to run your code, it could not understand it. Make sure the code runs before submitting.",
	"Q000": "Use single quotes instead of double quotes.",
	"E501": "This line is too long. Try breaking it into shorter lines.",
	"F401": "This import is never used. Remove it.",
	"E225": "Missing whitespace around an operator.",
}

// SQLSkipMessages are sqlfluff findings dropped by their message text.
var SQLSkipMessages = map[string]bool{
	"Files must not begin with newlines or whitespace.": true,
	"Files must end with a trailing newline.":           true,
}

// SQLMessages rewrites known sqlfluff messages into solver-friendly texts.
var SQLMessages = map[string]string{
	"Keywords must be consistently upper case.": "Write SQL keywords in upper case, for example SELECT and WHERE.",
	"Unnecessary trailing whitespace.":          "Remove the spaces at the end of this line.",
}

// VNUSkipMessages are validator findings dropped by their message text.
var VNUSkipMessages = map[string]bool{
	"Consider adding a “lang” attribute to the “html” start tag to declare the language of this document.": true,
}

// VNUMessages rewrites known validator messages into solver-friendly texts.
var VNUMessages = map[string]string{
	"Element “title” must not be empty.": "Give the page a title inside the title element.",
}
