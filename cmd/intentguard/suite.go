package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// Suite is a YAML file of assertions sharing a set of code objects.
//
//	objects:
//	  svc: internal/service
//	assertions:
//	  - assertion: "{svc} logs every error it returns"
//	  - assertion: "{svc} has no global state"
//	    expect: false
//	    quorum: 5
type Suite struct {
	Objects    map[string]string `yaml:"objects"`
	Assertions []SuiteCase       `yaml:"assertions"`
}

// SuiteCase is one assertion. Objects add to or override the suite objects. Expect
// defaults to true.
type SuiteCase struct {
	Name      string            `yaml:"name"`
	Assertion string            `yaml:"assertion"`
	Objects   map[string]string `yaml:"objects"`
	Expect    *bool             `yaml:"expect"`
	Quorum    int               `yaml:"quorum"`
}

// Expected reports the verdict the case passes with.
func (c SuiteCase) Expected() bool {
	return c.Expect == nil || *c.Expect
}

// Label is the name shown in reports.
func (c SuiteCase) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Assertion
}

// loadSuite parses a suite file. Relative object paths resolve against its directory.
func loadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse suite %s: %w", path, err)
	}
	if len(s.Assertions) == 0 {
		return nil, fmt.Errorf("suite %s has no assertions", path)
	}

	var errs []error
	for i, c := range s.Assertions {
		if c.Assertion == "" {
			errs = append(errs, fmt.Errorf("assertions[%d]: assertion is required", i))
		}
		if c.Quorum < 0 {
			errs = append(errs, fmt.Errorf("assertions[%d]: quorum cannot be negative", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	resolve := func(m map[string]string) {
		for name, p := range m {
			if !filepath.IsAbs(p) {
				m[name] = filepath.Join(base, p)
			}
		}
	}
	resolve(s.Objects)
	for _, c := range s.Assertions {
		resolve(c.Objects)
	}
	return &s, nil
}

// CaseObjects loads the code objects for one case. Loaded paths are memoized in loaded.
func (s *Suite) CaseObjects(c SuiteCase, loaded map[string]ports.CodeObject) ([]ports.CodeObject, error) {
	merged := make(map[string]string, len(s.Objects)+len(c.Objects))
	for name, p := range s.Objects {
		merged[name] = p
	}
	for name, p := range c.Objects {
		merged[name] = p
	}

	objects := make([]ports.CodeObject, 0, len(merged))
	for name, p := range merged {
		cacheKey := name + "\x00" + p
		obj, ok := loaded[cacheKey]
		if !ok {
			var err error
			if obj, err = loadObject(name, p); err != nil {
				return nil, err
			}
			loaded[cacheKey] = obj
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
