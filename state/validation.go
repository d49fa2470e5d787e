package state

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func SptThresholdValidator(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "infinity") {
		return nil
	}
	// rate based switching is not supported, only an immediate switch
	if rate, err := strconv.ParseUint(s, 10, 32); err != nil || rate != 0 {
		return fmt.Errorf("spt_threshold %q must be \"0\" or \"infinity\"", s)
	}
	return nil
}

// LocalConfigValidator checks the whole config and reports every problem it finds
func LocalConfigValidator(c *LocalCfg) error {
	var errs error
	if err := NameValidator(string(c.Id)); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(c.Interfaces) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one interface must be configured"))
	}
	seen := make(map[string]struct{})
	for _, itf := range c.Interfaces {
		if itf.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("interface name must not be empty"))
			continue
		}
		if _, ok := seen[itf.Name]; ok {
			errs = multierror.Append(errs, fmt.Errorf("duplicate interface: %s", itf.Name))
		}
		seen[itf.Name] = struct{}{}
		if !itf.Address.IsValid() || !itf.Address.Addr().Is4() {
			errs = multierror.Append(errs, fmt.Errorf("interface %s has an invalid ipv4 address", itf.Name))
		}
	}
	if !c.Pim.RpAddress.IsValid() {
		errs = multierror.Append(errs, fmt.Errorf("rp_address must be set"))
	} else if !c.Pim.RpAddress.Is4() {
		errs = multierror.Append(errs, fmt.Errorf("rp_address %s is not an ipv4 address", c.Pim.RpAddress))
	}
	if err := SptThresholdValidator(c.Pim.SptThreshold); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, n := range c.Neighbours {
		if _, ok := seen[n.Interface]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("neighbour %s references unknown interface %s", n.Address, n.Interface))
		}
		if !n.Address.IsValid() {
			errs = multierror.Append(errs, fmt.Errorf("neighbour on %s has an invalid address", n.Interface))
		}
	}
	for _, r := range c.Routes {
		if !r.Prefix.IsValid() {
			errs = multierror.Append(errs, fmt.Errorf("route has an invalid prefix"))
		}
		if _, ok := seen[r.Interface]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("route %s references unknown interface %s", r.Prefix, r.Interface))
		}
	}
	return errs
}
