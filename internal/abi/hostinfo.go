package abi

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// HostInfo 内核版本三元组 + 完整 release 串。
// 进程启动后探测一次, 之后不可变; 只用于决定候选符号名的尝试顺序,
// 版本判断失误不影响正确性 (所有候选最终都会被探测)。
type HostInfo struct {
	Major   int
	Minor   int
	Patch   int
	Release string
}

// AtLeast 内核版本是否不低于 major.minor
func (h HostInfo) AtLeast(major, minor int) bool {
	if h.Major != major {
		return h.Major > major
	}
	return h.Minor >= minor
}

var (
	hostOnce sync.Once
	hostInfo HostInfo
)

// DetectHost 探测当前内核版本, 失败时返回零值 (按最新版处理)
func DetectHost() HostInfo {
	hostOnce.Do(func() {
		var uts unix.Utsname
		if err := unix.Uname(&uts); err != nil {
			return
		}
		hostInfo = parseKernelRelease(unix.ByteSliceToString(uts.Release[:]))
	})
	return hostInfo
}

// parseKernelRelease 解析 "5.10.110-android12-9-..." 形式的 release 串,
// 只取前三段数字, 后缀原样保留在 Release 里
func parseKernelRelease(release string) HostInfo {
	h := HostInfo{Release: release}
	numeric := release
	if idx := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}); idx >= 0 {
		numeric = release[:idx]
	}
	parts := strings.SplitN(numeric, ".", 3)
	dst := []*int{&h.Major, &h.Minor, &h.Patch}
	for i, p := range parts {
		if i >= len(dst) {
			break
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		*dst[i] = n
	}
	return h
}

// preferModern 零值 (探测失败) 按最新版处理
func (h HostInfo) preferModern(major, minor int) bool {
	if h.Major == 0 {
		return true
	}
	return h.AtLeast(major, minor)
}

// orderCandidates 按版本判断调整候选顺序: modernFirst 为 false 时整体反转。
// 只是把更可能命中的变体排到前面省一次落空的 dlsym, 不改变可达集合。
func orderCandidates(candidates []string, modernFirst bool) []string {
	if modernFirst {
		return candidates
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[len(candidates)-1-i] = c
	}
	return out
}
