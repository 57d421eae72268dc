package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/your-org/scanforge/internal/state"
)

// Discovery tasks report endpoints in greppable "port/proto [state] name"
// lines, the shape port scanners and wrapper scripts already emit:
//
//	80/tcp open http
//	443/tcp https
//	53/udp open domain
//
// The engine knows this line format, not the tool behind it.
var serviceLine = regexp.MustCompile(`^\s*(\d{1,5})/(tcp|udp)\s+(?:open\s+)?([A-Za-z0-9][A-Za-z0-9_\-\./]*)`)

var secureNames = []string{"https", "ftps", "smtps", "imaps", "pop3s", "ldaps", "ssl", "tls"}

// Services extracts discovered endpoints from a discovery task's stdout.
// Lines that don't match the service format are ignored; they remain
// subject to normal finding extraction.
func Services(address string, stdout []string) []state.Service {
	var services []state.Service
	for _, line := range stdout {
		m := serviceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		name := strings.ToLower(m[3])
		services = append(services, state.Service{
			Address:  address,
			Protocol: state.Protocol(m[2]),
			Port:     port,
			Name:     name,
			Secure:   isSecureName(name),
		})
	}
	return services
}

func isSecureName(name string) bool {
	for _, s := range secureNames {
		if name == s || strings.HasPrefix(name, s+"/") || strings.HasSuffix(name, "/"+s) {
			return true
		}
	}
	return false
}
