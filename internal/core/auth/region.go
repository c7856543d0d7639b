package auth

import (
	"sort"
	"strings"
)

// DefaultArea is used when an unknown area code is requested.
const DefaultArea = "OTHER"

// Region is the fixed server/app triple for one Aqara cloud area.
type Region struct {
	Server string `yaml:"server"`
	AppID  string `yaml:"appid"`
	AppKey string `yaml:"appkey"`
}

// Host returns the server without scheme or trailing slash.
func (r Region) Host() string {
	host := strings.TrimPrefix(r.Server, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.Trim(host, "/")
}

const (
	accountAppID  = "444c476ef7135e53330f46e7"
	accountAppKey = "NnZDpnPbar6grbzm3F8dkB3Nif2PaB4a"
)

// Regions maps area codes to their cloud endpoints.
type Regions map[string]Region

// DefaultRegions is the built-in area table.
func DefaultRegions() Regions {
	return Regions{
		"CN":    {Server: "https://aiot-rpc.aqara.cn", AppID: accountAppID, AppKey: accountAppKey},
		"USA":   {Server: "https://rpc-us.aqara.com", AppID: accountAppID, AppKey: accountAppKey},
		"KR":    {Server: "https://rpc-kr.aqara.com", AppID: accountAppID, AppKey: accountAppKey},
		"RU":    {Server: "https://rpc-ru.aqara.com", AppID: accountAppID, AppKey: accountAppKey},
		"GER":   {Server: "https://rpc-ger.aqara.com", AppID: accountAppID, AppKey: accountAppKey},
		"OTHER": {Server: "https://rpc-ger.aqara.com", AppID: accountAppID, AppKey: accountAppKey},
	}
}

// Merge returns a copy of r with overrides applied on top. Empty fields in
// an override keep the built-in value.
func (r Regions) Merge(overrides map[string]Region) Regions {
	out := make(Regions, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range overrides {
		key := strings.ToUpper(k)
		base := out[key]
		if v.Server != "" {
			base.Server = v.Server
		}
		if v.AppID != "" {
			base.AppID = v.AppID
		}
		if v.AppKey != "" {
			base.AppKey = v.AppKey
		}
		out[key] = base
	}
	return out
}

// Lookup resolves an area code case-insensitively. Unknown codes fall back
// to DefaultArea; the returned code is the one actually used.
func (r Regions) Lookup(area string) (string, Region) {
	key := strings.ToUpper(strings.TrimSpace(area))
	if reg, ok := r[key]; ok {
		return key, reg
	}
	return DefaultArea, r[DefaultArea]
}

// Areas lists the known area codes, sorted.
func (r Regions) Areas() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
