package email

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"qq.com":         "imap.qq.com:993",
	"foxmail.com":    "imap.qq.com:993",
	"163.com":        "imap.163.com:993",
	"126.com":        "imap.126.com:993",
	"yeah.net":       "imap.yeah.net:993",
	"sina.com":       "imap.sina.com:993",
	"sohu.com":       "imap.sohu.com:993",
	"aliyun.com":     "imap.aliyun.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"mail.ru":        "imap.mail.ru:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
}

// ResolveIMAPServer determines the IMAP server for an email address.
// Used when an account row carries no explicit host.
func ResolveIMAPServer(email string) (string, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid email format")
	}

	domain := strings.ToLower(parts[1])

	// Check known providers first
	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	// Try common IMAP server patterns
	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if checkIMAPServer(host, 993) {
			return host + ":993", nil
		}
	}

	// Try to derive from MX records
	if server, err := resolveViaMX(domain); err == nil && server != "" {
		return server, nil
	}

	// Default fallback
	return "imap." + domain + ":993", nil
}

// checkIMAPServer checks if an IMAP server is reachable
func checkIMAPServer(host string, port int) bool {
	address := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", address, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// resolveViaMX tries to determine the IMAP server from MX records
func resolveViaMX(domain string) (string, error) {
	mxRecords, err := net.LookupMX(domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records found")
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")

	// e.g. mx.example.com -> imap.example.com
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) == 2 {
		baseDomain := parts[1]
		for _, host := range []string{"imap." + baseDomain, "mail." + baseDomain} {
			if checkIMAPServer(host, 993) {
				return host + ":993", nil
			}
		}
	}

	return "", fmt.Errorf("could not determine IMAP server")
}
