package main

import (
	"io/ioutil"
	"path"

	"github.com/Velocidex/yaml/v2"
	"www.velocidex.com/golang/go-wim/wim"
)

// A capture profile configures a scan from a YAML file, e.g.:
//
//	exclude:
//	  - /pagefile.sys
//	  - /System Volume Information/*
//	no_acls: false
//	rpfix: true
//	strict_unsupported: false
type CaptureProfile struct {
	Exclude           []string `yaml:"exclude"`
	NoAcls            bool     `yaml:"no_acls"`
	RpFix             bool     `yaml:"rpfix"`
	StrictUnsupported bool     `yaml:"strict_unsupported"`
}

func LoadCaptureProfile(filename string) (*CaptureProfile, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	profile := &CaptureProfile{}
	err = yaml.UnmarshalStrict(data, profile)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (self *CaptureProfile) Flags() wim.AddFlags {
	var flags wim.AddFlags
	if self.NoAcls {
		flags |= wim.ADD_FLAG_NO_ACLS
	}
	if self.RpFix {
		flags |= wim.ADD_FLAG_RPFIX
	}
	if self.StrictUnsupported {
		flags |= wim.ADD_FLAG_NO_UNSUPPORTED_EXCLUDE
	}
	return flags
}

// Excluder matches paths against the profile's glob patterns.
func (self *CaptureProfile) Excluder() func(string) (bool, error) {
	patterns := self.Exclude
	if len(patterns) == 0 {
		return nil
	}

	return func(filename string) (bool, error) {
		for _, pattern := range patterns {
			matched, err := path.Match(pattern, filename)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	}
}
