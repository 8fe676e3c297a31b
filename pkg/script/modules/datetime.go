package modules

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goodsign/monday"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

func newDatetime() (starlark.Value, error) {
	return module("datetime", starlark.StringDict{
		"now":     starlark.NewBuiltin("now", datetimeNow),
		"parse":   starlark.NewBuiltin("parse", datetimeParse),
		"format":  starlark.NewBuiltin("format", datetimeFormat),
		"isodate": starlark.NewBuiltin("isodate", datetimeISODate),
	}), nil
}

// now(tz="") returns the current time, in the named IANA zone if given.
func datetimeNow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tz string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "tz?", &tz); err != nil {
		return nil, err
	}
	now := time.Now()
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		now = now.In(loc)
	}
	return startime.Time(now), nil
}

// parse(text, day_first=False) parses a date in any common layout.
func datetimeParse(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	var dayFirst bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "day_first?", &dayFirst); err != nil {
		return nil, err
	}
	t, err := parseDate(text, dayFirst)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return startime.Time(t), nil
}

func parseDate(text string, dayFirst bool) (time.Time, error) {
	return dateparse.ParseIn(strings.TrimSpace(text), time.Local, dateparse.PreferMonthFirst(!dayFirst))
}

// format(t, layout="2006-01-02 15:04", locale="en_US") formats a time or a
// date string with month and day names in the given locale.
func datetimeFormat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	layout, locale := "2006-01-02 15:04", "en_US"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "t", &v, "layout?", &layout, "locale?", &locale); err != nil {
		return nil, err
	}
	t, err := asTime(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(monday.Format(t, layout, mondayLocale(locale))), nil
}

// isodate(t) returns the date part of t as YYYY-MM-DD.
func datetimeISODate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	t, err := asTime(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(t.Format(time.DateOnly)), nil
}

func asTime(v starlark.Value) (time.Time, error) {
	switch v := v.(type) {
	case startime.Time:
		return time.Time(v), nil
	case starlark.String:
		return parseDate(string(v), false)
	}
	return time.Time{}, fmt.Errorf("want time or string, got %s", v.Type())
}

var mondayLocales = map[string]monday.Locale{
	"en":    monday.LocaleEnUS,
	"en_us": monday.LocaleEnUS,
	"en_gb": monday.LocaleEnGB,
	"de":    monday.LocaleDeDE,
	"fr":    monday.LocaleFrFR,
	"fr_ca": monday.LocaleFrCA,
	"es":    monday.LocaleEsES,
	"it":    monday.LocaleItIT,
	"pt":    monday.LocalePtPT,
	"pt_br": monday.LocalePtBR,
	"nl":    monday.LocaleNlNL,
	"ru":    monday.LocaleRuRU,
	"pl":    monday.LocalePlPL,
	"sv":    monday.LocaleSvSE,
	"ja":    monday.LocaleJaJP,
	"zh":    monday.LocaleZhCN,
	"zh_tw": monday.LocaleZhTW,
	"ko":    monday.LocaleKoKR,
}

// mondayLocale accepts "de", "de-DE", "de_DE" and the like, falling back
// to the language and then to US English.
func mondayLocale(locale string) monday.Locale {
	key := strings.ToLower(strings.ReplaceAll(locale, "-", "_"))
	if l, ok := mondayLocales[key]; ok {
		return l
	}
	for _, l := range monday.ListLocales() {
		if strings.EqualFold(string(l), key) {
			return l
		}
	}
	lang, _, _ := strings.Cut(key, "_")
	if l, ok := mondayLocales[lang]; ok {
		return l
	}
	return monday.LocaleEnUS
}
