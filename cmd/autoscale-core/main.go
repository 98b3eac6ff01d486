package main

import (
	"flag"

	"k8s.io/klog/v2"

	"github.com/spf13/cobra"
)

const componentName = "autoscale-core"

var rootCmd = &cobra.Command{
	Use:   componentName,
	Short: "Run the autoscale control plane core",
	Long:  "",
}

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		klog.Exitf("Error executing %s: %v", componentName, err)
	}
}
