package flow

import (
	"crypto/md5" //nolint:gosec // seed derivation, not security
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

var (
	chromeVersions  = []string{"130.0.0.0", "131.0.0.0", "132.0.0.0", "129.0.0.0"}
	firefoxVersions = []string{"133", "132", "131", "134"}
	safariVersions  = []string{"18.2", "18.1", "18.0", "17.6"}
	edgeVersions    = []string{"130.0.0.0", "131.0.0.0", "132.0.0.0"}
)

type uaTemplate func(r *rand.Rand) string

func pick(r *rand.Rand, pool []string) string {
	return pool[r.IntN(len(pool))]
}

var uaPlatforms = [][]uaTemplate{
	{
		func(r *rand.Rand) string {
			return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + pick(r, chromeVersions) + " Safari/537.36"
		},
		func(r *rand.Rand) string {
			v := pick(r, firefoxVersions)
			return "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:" + v + ".0) Gecko/20100101 Firefox/" + v + ".0"
		},
		func(r *rand.Rand) string {
			return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + pick(r, chromeVersions) +
				" Safari/537.36 Edg/" + pick(r, edgeVersions)
		},
	},
	{
		func(r *rand.Rand) string {
			return "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + pick(r, chromeVersions) + " Safari/537.36"
		},
		func(r *rand.Rand) string {
			return "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/" + pick(r, safariVersions) + " Safari/605.1.15"
		},
		func(r *rand.Rand) string {
			v := pick(r, firefoxVersions)
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 14.%d; rv:%s.0) Gecko/20100101 Firefox/%s.0", r.IntN(8), v, v)
		},
	},
	{
		func(r *rand.Rand) string {
			return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + pick(r, chromeVersions) + " Safari/537.36"
		},
		func(r *rand.Rand) string {
			v := pick(r, firefoxVersions)
			return "Mozilla/5.0 (X11; Linux x86_64; rv:" + v + ".0) Gecko/20100101 Firefox/" + v + ".0"
		},
		func(r *rand.Rand) string {
			v := pick(r, firefoxVersions)
			return "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:" + v + ".0) Gecko/20100101 Firefox/" + v + ".0"
		},
	},
}

// UserAgentFor returns a stable browser user agent for an account, so the
// upstream sees one consistent client per account.
func UserAgentFor(accountKey string) string {
	sum := md5.Sum([]byte(accountKey)) //nolint:gosec // seed derivation, not security
	seed := uint64(binary.BigEndian.Uint32(sum[:4]))
	r := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // seeded for stable output

	platform := uaPlatforms[r.IntN(len(uaPlatforms))]
	return platform[r.IntN(len(platform))](r)
}

// newSessionID returns the client session id format the web app uses.
func newSessionID(now time.Time) string {
	return ";" + strconv.FormatInt(now.UnixMilli(), 10)
}
