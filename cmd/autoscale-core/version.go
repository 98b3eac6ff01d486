package main

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openshift/autoscale-core/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of autoscale-core",
	Long:  `All software has versions. This is autoscale-core's.`,
	Run:   runVersionCmd,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersionCmd(cmd *cobra.Command, args []string) {
	flag.Parse()
	fmt.Println(componentName, "v"+version.Version.String())
}
