// Package config loads and validates tempmon configuration.
//
// A Config starts from Default, takes every key present in the YAML file and
// then any TEMPMON_<SECTION>_<KEY> environment variable. Validate collects
// every problem into one error wrapping ErrInvalid, including the device
// parameter ranges nodes enforce.
//
// The same Load is used at startup and by the hot-reload watcher. It always
// builds a fresh value, so a failed reload leaves the running *Config alone.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Monitor.PollInterval())
package config
