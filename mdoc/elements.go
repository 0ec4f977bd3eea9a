package mdoc

// ISO_IEC_18013-5_2021(en).pdf 7.2.1, EUDI PID rulebook

const (
	DocTypeMDL DocType = "org.iso.18013.5.1.mDL"
	DocTypePID DocType = "eu.europa.ec.eudi.pid.1"

	NameSpaceISO1801351 NameSpace = "org.iso.18013.5.1"
	NameSpaceEUDIPID    NameSpace = "eu.europa.ec.eudi.pid.1"
)

type Element struct {
	Namespace NameSpace
	Name      ElementIdentifier
}

var (
	FamilyName = Element{Namespace: NameSpaceISO1801351, Name: "family_name"}
	GivenName  = Element{Namespace: NameSpaceISO1801351, Name: "given_name"}
	BirthDate  = Element{Namespace: NameSpaceISO1801351, Name: "birth_date"}
	AgeOver18  = Element{Namespace: NameSpaceISO1801351, Name: "age_over_18"}
	AgeOver21  = Element{Namespace: NameSpaceISO1801351, Name: "age_over_21"}

	EUFamilyName = Element{Namespace: NameSpaceEUDIPID, Name: "family_name"}
	EUGivenName  = Element{Namespace: NameSpaceEUDIPID, Name: "given_name"}
	EUBirthDate  = Element{Namespace: NameSpaceEUDIPID, Name: "birth_date"}
	EUAgeOver18  = Element{Namespace: NameSpaceEUDIPID, Name: "age_over_18"}
	EUAgeOver21  = Element{Namespace: NameSpaceEUDIPID, Name: "age_over_21"}
)

// AgeElements returns the elements requested for an age check against
// minAge on docType: the threshold claim closest to minAge plus names.
func AgeElements(docType DocType, minAge int) []Element {
	if docType == DocTypePID {
		over := EUAgeOver18
		if minAge >= 21 {
			over = EUAgeOver21
		}
		return []Element{over, EUGivenName, EUFamilyName}
	}

	over := AgeOver18
	if minAge >= 21 {
		over = AgeOver21
	}
	return []Element{over, GivenName, FamilyName}
}

// Claims flattens the document's issuer-signed items in namespace order.
func (d Document) Claims() []Claim {
	var out []Claim
	for _, ns := range d.IssuerSigned.SortedNameSpaces() {
		for _, item := range d.IssuerSigned.NameSpaces[ns] {
			out = append(out, Claim{
				NameSpace:  ns,
				Identifier: item.ElementIdentifier,
				Value:      item.ElementValue,
			})
		}
	}
	return out
}

type Claim struct {
	NameSpace  NameSpace
	Identifier ElementIdentifier
	Value      ElementValue
}
