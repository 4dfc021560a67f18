package cmd

import "testing"

func Test_RootCmd_RegistersExpectedSubcommands(t *testing.T) {
	want := map[string]bool{
		"get":       false,
		"set":       false,
		"ping":      false,
		"cluster":   false,
		"subscribe": false,
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered under rootCmd", name)
		}
	}
}

func Test_ClusterCmd_RegistersTopologyAndRefresh(t *testing.T) {
	want := map[string]bool{"topology": false, "refresh": false}
	for _, c := range clusterCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered under clusterCmd", name)
		}
	}
}
