package static

// builtinFunctions are host and runtime globals an inline handler may call
// without the document defining them.
var builtinFunctions = map[string]bool{
	// dialogs and logging
	"alert": true, "confirm": true, "prompt": true, "print": true, "log": true,
	// timers
	"setTimeout": true, "setInterval": true, "clearTimeout": true, "clearInterval": true,
	"requestAnimationFrame": true, "cancelAnimationFrame": true, "queueMicrotask": true,
	"requestIdleCallback": true, "cancelIdleCallback": true,
	// window
	"open": true, "close": true, "focus": true, "blur": true, "scroll": true, "scrollTo": true,
	"scrollBy": true, "postMessage": true, "getComputedStyle": true, "matchMedia": true,
	"getSelection": true, "stop": true, "fetch": true, "structuredClone": true,
	"atob": true, "btoa": true,
	// language
	"eval": true, "parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURI": true, "encodeURIComponent": true, "decodeURI": true, "decodeURIComponent": true,
	"escape": true, "unescape": true, "String": true, "Number": true, "Boolean": true,
	"Array": true, "Object": true, "Date": true, "RegExp": true, "Error": true, "Symbol": true,
	"Promise": true, "Map": true, "Set": true, "BigInt": true,
}

// IsBuiltin reports whether name is on the host/runtime allow-list.
func IsBuiltin(name string) bool {
	return builtinFunctions[name]
}
