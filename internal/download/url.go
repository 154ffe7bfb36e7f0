package download

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidDate 表示日期不是合法的 YYYY-MM-DD。
	ErrInvalidDate = errors.New("invalid date")
	// ErrHostNotAllowed 表示生成的地址不在允许列表内。
	ErrHostNotAllowed = errors.New("host not allowed")
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate 校验格式与日历合法性。
func ParseDate(date string) (time.Time, error) {
	if !datePattern.MatchString(date) {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidDate, date)
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return parsed, nil
}

// BuildURL 根据模板生成日期对应的 PDF 地址，并校验 scheme 与主机。
func BuildURL(template, date string, allowedHosts []string) (string, error) {
	if _, err := ParseDate(date); err != nil {
		return "", err
	}
	parts := strings.SplitN(date, "-", 3)
	raw := strings.NewReplacer(
		"{year}", parts[0],
		"{month}", parts[1],
		"{day}", parts[2],
		"{date}", date,
	).Replace(template)

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrHostNotAllowed, parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range allowedHosts {
		if host == strings.ToLower(allowed) {
			return raw, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}
