package router

import (
	"fmt"
	"strings"
)

// Domain is the knowledge domain a query is routed to. The set is closed:
// a label outside it is never coerced into one of the known domains.
type Domain int

const (
	// DomainUnclassified is the zero value: no label has been accepted.
	DomainUnclassified Domain = iota
	DomainRecords
	DomainInsurance
)

func (d Domain) String() string {
	switch d {
	case DomainRecords:
		return "records"
	case DomainInsurance:
		return "insurance"
	default:
		return "unclassified"
	}
}

func (d Domain) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Domain) UnmarshalText(text []byte) error {
	if string(text) == "unclassified" || len(text) == 0 {
		*d = DomainUnclassified
		return nil
	}
	parsed, err := ParseDomain(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnclassifiedError reports a classifier label outside the known domains.
type UnclassifiedError struct {
	Label string
}

func (e *UnclassifiedError) Error() string {
	return fmt.Sprintf("classifier returned unknown domain %q", e.Label)
}

// ParseDomain maps a classifier label to a Domain. Matching ignores case,
// surrounding whitespace, quotes and a trailing period, so "Insurance." is
// accepted; anything else yields DomainUnclassified and an
// *UnclassifiedError.
func ParseDomain(label string) (Domain, error) {
	const quotes = "\"'` \t\r\n"
	normalized := strings.Trim(strings.ToLower(label), quotes)
	normalized = strings.Trim(strings.TrimRight(normalized, "."), quotes)

	switch normalized {
	case "records":
		return DomainRecords, nil
	case "insurance":
		return DomainInsurance, nil
	default:
		return DomainUnclassified, &UnclassifiedError{Label: label}
	}
}

// PickRetriever names the retrieval node for the classified domain.
func PickRetriever(s State) (string, error) {
	switch s.Domain {
	case DomainRecords:
		return NodeRetrieveRecords, nil
	case DomainInsurance:
		return NodeRetrieveInsurance, nil
	case DomainUnclassified:
		return "", &UnclassifiedError{Label: s.Domain.String()}
	default:
		return "", fmt.Errorf("router: invalid domain value %d", int(s.Domain))
	}
}
