//go:build windows

// xrelayctl 依赖 Unix Domain Socket，不支持 Windows。
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "xrelayctl: 不支持 Windows 平台")
	os.Exit(1)
}
