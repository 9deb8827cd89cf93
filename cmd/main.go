/*
Copyright 2024 DocuFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docuflowhq/docuflow"
	"github.com/docuflowhq/docuflow/config"
	"github.com/docuflowhq/docuflow/database"
	"github.com/docuflowhq/docuflow/internal/notification"
)

// Docuflow represents the CLI application, encapsulating the root Cobra
// command.
type Docuflow struct {
	cmd *cobra.Command
}

// docuflowInstance holds the service instance and its configuration for
// use inside commands.
type docuflowInstance struct {
	docuflow *docuflow.Docuflow
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance
// before any command runs.
func preRun(app *docuflowInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("docuflow.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newDocuflow, err := setupDocuflow(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.docuflow = newDocuflow
		app.cnf = cnf

		return nil
	}
}

func setupDocuflow(cfg *config.Configuration) (*docuflow.Docuflow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newDocuflow, err := docuflow.NewDocuflow(db)
	if err != nil {
		return nil, fmt.Errorf("error creating docuflow: %v", err)
	}
	return newDocuflow, nil
}

// NewCLI creates the command-line interface for the DocuFlow application.
func NewCLI() *Docuflow {
	var configFile string
	d := &docuflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "docuflow",
		Short: "Document extraction pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./docuflow.json", "Configuration file for docuflow")
	rootCmd.PersistentPreRunE = preRun(d)

	rootCmd.AddCommand(serverCommands(d))
	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(migrateCommands(d))

	return &Docuflow{cmd: rootCmd}
}

func (d *Docuflow) executeCLI() {
	if err := d.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
