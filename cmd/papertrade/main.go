// papertrade 模拟炒股命令行：登录、查看组合、市价买卖、代码搜索以及常驻状态服务。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
