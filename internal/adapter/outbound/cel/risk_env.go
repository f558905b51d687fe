package cel

import (
	"net"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/velro/authz-core/internal/domain/authz"
)

// NewRiskEnvironment builds the CEL environment risk factors are
// compiled against: the scalar and derived fields of a SecurityContext,
// plus a small set of matching helpers. Adapted from the teacher's
// cross-protocol policy environment (variables renamed from
// tool/destination fields to security-context fields; the glob/CIDR
// matching helpers are kept, generalized to risk-factor use).
func NewRiskEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("client_ip", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("is_vpn", cel.BoolType),
		cel.Variable("is_tor", cel.BoolType),
		cel.Variable("is_bot", cel.BoolType),
		cel.Variable("is_automated", cel.BoolType),
		cel.Variable("country_code", cel.StringType),
		cel.Variable("request_hour", cel.IntType),
		cel.Variable("history_size", cel.IntType),
		cel.Variable("distinct_recent_ips", cel.IntType),
		cel.Variable("recent_denied_count", cel.IntType),
		cel.Variable("recent_admin_count", cel.IntType),
		cel.Variable("session_data", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),

		// ip_in_cidr: checks if an IP falls within a CIDR range.
		// Usage: ip_in_cidr(client_ip, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr := ipVal.Value().(string)
					cidrStr := cidrVal.Value().(string)

					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrStr)
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// glob: pattern match against an arbitrary string, e.g. a
		// user-agent or session field.
		// Usage: glob(user_agent, "*bot*")
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(patternVal, strVal ref.Val) ref.Val {
					pattern := patternVal.Value().(string)
					s := strVal.Value().(string)
					matched, _ := filepath.Match(pattern, s)
					return types.Bool(matched)
				}),
			),
		),

		// header_contains: checks whether any header value contains a
		// substring. Usage: header_contains(headers, "curl")
		cel.Function("header_contains",
			cel.Overload("header_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.StringType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					goMap, ok := mapVal.Value().(map[string]string)
					if !ok {
						return types.Bool(false)
					}
					for _, v := range goMap {
						if strings.Contains(v, substr) {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation derives a CEL activation map from a SecurityContext,
// computing the bounded-history aggregates (distinct recent IPs, recent
// denials, recent admin-category access) the default risk factors key
// off.
func BuildActivation(sc *authz.SecurityContext) map[string]any {
	isVPN, isTor, isBot, isAutomated := false, false, false, false
	countryCode := ""
	if sc.Geolocation != nil {
		isVPN = sc.Geolocation.IsVPN
		isTor = sc.Geolocation.IsTor
		countryCode = sc.Geolocation.CountryCode
	}
	if sc.UserAgentInfo != nil {
		isBot = sc.UserAgentInfo.IsBot
		isAutomated = sc.UserAgentInfo.IsAutomated
	}

	ips := make(map[string]struct{})
	deniedCount, adminCount := 0, 0
	for _, h := range sc.History {
		ips[h.IPAddress] = struct{}{}
		if !h.Granted {
			deniedCount++
		}
		if h.AccessType == "admin" {
			adminCount++
		}
	}

	sessionData := sc.SessionData
	if sessionData == nil {
		sessionData = map[string]string{}
	}
	headers := sc.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return map[string]any{
		"client_ip":           sc.ClientIP,
		"user_agent":          sc.UserAgent,
		"is_vpn":              isVPN,
		"is_tor":              isTor,
		"is_bot":              isBot,
		"is_automated":        isAutomated,
		"country_code":        countryCode,
		"request_hour":        int64(sc.RequestTime.Hour()),
		"history_size":        int64(len(sc.History)),
		"distinct_recent_ips": int64(len(ips)),
		"recent_denied_count": int64(deniedCount),
		"recent_admin_count":  int64(adminCount),
		"session_data":        sessionData,
		"headers":             headers,
	}
}
