// Command omctl 是离线的运维工具：不依赖数据库和队列，直接调用抽取、分块和渲染组件，便于排查单个文件。
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "omctl",
	Short:         "Offline tools for the offering memorandum pipeline",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
