package payment

import "strings"

type Method struct {
	Name string
}

func (m Method) Code() string {
	return m.Name
}

func (m Method) Label() string {
	if m.Name == Methods.Visa.Name {
		return "VISA / Card"
	}
	if len(m.Name) == 0 {
		return ""
	}
	return strings.ToUpper(m.Name[:1]) + m.Name[1:]
}

type Enum struct {
	Mpesa Method
	Emola Method
	Visa  Method
	Cash  Method
}

var Methods = Enum{
	Mpesa: Method{Name: "mpesa"},
	Emola: Method{Name: "emola"},
	Visa:  Method{Name: "visa"},
	Cash:  Method{Name: "cash"},
}

var All = []Method{
	Methods.Mpesa,
	Methods.Emola,
	Methods.Visa,
	Methods.Cash,
}

// ByName returns the method for a given name, or nil if not found
func ByName(name string) *Method {
	for _, m := range All {
		if m.Name == name {
			return &m
		}
	}
	return nil
}
