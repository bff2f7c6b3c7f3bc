package wsi

import "testing"

func TestCommandArgs(t *testing.T) {
	cmd := Command([]string{"index", "config.toml", "projects/p/locations/us/datasets/d/dicomStores/s", "1.2.3", "4.5.6"})
	if cmd.Name() != "index" {
		t.Errorf("bad command name: %q\n", cmd.Name())
	}
	if cmd.String() != "index config.toml projects/p/locations/us/datasets/d/dicomStores/s 1.2.3 4.5.6" {
		t.Errorf("bad command string: %q\n", cmd.String())
	}
	var config, store string
	studies := cmd.CommandArgs(&config, &store)
	if config != "config.toml" || store != "projects/p/locations/us/datasets/d/dicomStores/s" {
		t.Errorf("bad command args: %q, %q\n", config, store)
	}
	if len(studies) != 2 || studies[0] != "1.2.3" || studies[1] != "4.5.6" {
		t.Errorf("bad overflow: %v\n", studies)
	}
	if cmd.Argument(5) != "" || cmd.Argument(3) != "1.2.3" {
		t.Errorf("bad argument lookup\n")
	}

	short := Command([]string{"browse", "config.toml"})
	var location, dataset string
	if overflow := short.CommandArgs(&config, &location, &dataset); len(overflow) != 0 {
		t.Errorf("expected no overflow, got %v\n", overflow)
	}
	if config != "config.toml" || location != "" || dataset != "" {
		t.Errorf("bad short command args: %q %q %q\n", config, location, dataset)
	}
	if (Command{}).Name() != "" {
		t.Errorf("expected empty name for empty command\n")
	}
}
