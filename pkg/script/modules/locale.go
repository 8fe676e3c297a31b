package modules

import (
	"fmt"

	"go.starlark.net/starlark"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

func newLocale() (starlark.Value, error) {
	return module("locale", starlark.StringDict{
		"number":   starlark.NewBuiltin("number", localeNumber),
		"percent":  starlark.NewBuiltin("percent", localePercent),
		"currency": starlark.NewBuiltin("currency", localeCurrency),
	}), nil
}

// number(x, lang="en-US") formats x with the language's digit grouping.
func localeNumber(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	lang := "en-US"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "lang?", &lang); err != nil {
		return nil, err
	}
	return localeFormat(b, x, lang, func(f float64) any { return number.Decimal(f) })
}

// percent(x, lang="en-US") formats x as a percentage; 0.25 is 25%.
func localePercent(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	lang := "en-US"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "lang?", &lang); err != nil {
		return nil, err
	}
	return localeFormat(b, x, lang, func(f float64) any { return number.Percent(f) })
}

// currency(x, code="USD", lang="en-US") formats an amount with its symbol.
func localeCurrency(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	code, lang := "USD", "en-US"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "code?", &code, "lang?", &lang); err != nil {
		return nil, err
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown currency %q", b.Name(), code)
	}
	return localeFormat(b, x, lang, func(f float64) any { return currency.Symbol(unit.Amount(f)) })
}

func localeFormat(b *starlark.Builtin, x starlark.Value, lang string, wrap func(float64) any) (starlark.Value, error) {
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: want int or float, got %s", b.Name(), x.Type())
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown language %q", b.Name(), lang)
	}
	return starlark.String(message.NewPrinter(tag).Sprint(wrap(f))), nil
}
