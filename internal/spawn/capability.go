package spawn

import "os"

// ForkViaProxyEnvVar is the single opt-in switch of spec §6: its
// presence causes autoDetectWorkers to spawn a proxy runtime and route
// ForkWorkers through it instead of forking them directly.
const ForkViaProxyEnvVar = "TASKMASTER_FORK_VIA_PROXY"

// CanForkChild reports whether this runtime can fork a child process
// directly. Abstracted per spec §9 design notes so the core never
// depends on a specific fork mechanism; os/exec is available on every
// platform taskmaster targets, so this is always true today, but
// callers must treat it as a capability check rather than a constant.
func CanForkChild() bool {
	return true
}

// ForkViaProxyRequested reports whether the fork-via-proxy environment
// variable is set.
func ForkViaProxyRequested() bool {
	_, ok := os.LookupEnv(ForkViaProxyEnvVar)
	return ok
}
