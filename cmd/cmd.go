package cmd

import (
	"github.com/nestroute/mrtd/std/utils"
	"github.com/spf13/cobra"
)

const banner = `
            _      _
  _ __ ___ | |_ __| |
 | '_ ' _ \| '_/ _' |
 | | | | | | || (_| |
 |_| |_| |_|_| \__,_|

MRT Table Dump Daemon
`

var CmdMrtd = &cobra.Command{
	Use:     "mrtd",
	Short:   "MRT Table Dump Daemon",
	Long:    banner[1:],
	Version: utils.MrtdVersion,
}

func init() {
	cobra.EnableCommandSorting = false
	CmdMrtd.Root().CompletionOptions.HiddenDefaultCmd = true
	CmdMrtd.PersistentFlags().BoolP("help", "h", false, "Print usage")
	CmdMrtd.PersistentFlags().Lookup("help").Hidden = true

	CmdMrtd.AddGroup(&cobra.Group{ID: "run", Title: "Daemon"})
	CmdMrtd.AddCommand(CmdRun)

	CmdMrtd.AddGroup(&cobra.Group{ID: "tools", Title: "Archive Tools"})
	CmdMrtd.AddCommand(cmdArchive())
}
