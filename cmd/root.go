package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spf13/viper"

	"github.com/solyield/corridor/cmd/bridge"
	"github.com/solyield/corridor/pkg/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "corridord",
	Short: "Base to Solana USDC corridor operator CLI",
}

// Top-level version subcommand
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display binary version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.corridord.yaml)")
	rootCmd.AddCommand(bridge.TransferCmd)
	rootCmd.AddCommand(bridge.BurnCmd)
	rootCmd.AddCommand(bridge.AttestCmd)
	rootCmd.AddCommand(bridge.MintCmd)
	rootCmd.AddCommand(bridge.FinalizeCmd)
	rootCmd.AddCommand(bridge.ApplyCmd)
	rootCmd.AddCommand(bridge.StatusCmd)
	rootCmd.AddCommand(bridge.SyncCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".corridord" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".corridord.yaml")
	}

	viper.SetEnvPrefix("corridor")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
