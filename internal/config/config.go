package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// Name identifies the engine instance in logs and published signals.
	Name   string `yaml:"name" json:"name" env:"ENGINE_NAME" env-default:"flowrun"`
	Log    Log    `yaml:"log" json:"log"`
	Script Script `yaml:"script" json:"script"`
	// ExclusiveChoice enables constraint-based successor resolution on
	// nodes that declare constraints.
	ExclusiveChoice bool `yaml:"exclusiveChoice" json:"exclusiveChoice" env:"ENGINE_EXCLUSIVE_CHOICE" env-default:"true"`
}

type Log struct {
	Level string `yaml:"level" json:"level" env:"LOG_LEVEL" env-default:"info"`
	JSON  bool   `yaml:"json" json:"json" env:"LOG_JSON"`
}

// Script sizes the pool of expression evaluation VMs.
type Script struct {
	MaxPoolSize int `yaml:"maxPoolSize" json:"maxPoolSize" env:"SCRIPT_MAX_POOL_SIZE" env-default:"10"`
	MinPoolSize int `yaml:"minPoolSize" json:"minPoolSize" env:"SCRIPT_MIN_POOL_SIZE" env-default:"1"`
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
