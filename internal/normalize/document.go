package normalize

import "encoding/json"

// document mirrors the subset of a supplier sailing file that is consumed.
// Nested collections are kept raw because their shape varies between
// objects, lists and empty lists.
type document struct {
	CodeToCruiseID Scalar `json:"codetocruiseid"`
	CruiseID       Scalar `json:"cruiseid"`
	LineID         Scalar `json:"lineid"`
	ShipID         Scalar `json:"shipid"`
	Name           Scalar `json:"name"`
	Nights         Scalar `json:"nights"`
	SailNights     Scalar `json:"sailnights"`
	SeaDays        Scalar `json:"seadays"`
	VoyageCode     Scalar `json:"voyagecode"`
	ItineraryCode  Scalar `json:"itinerarycode"`
	SailDate       Scalar `json:"saildate"`
	StartDate      Scalar `json:"startdate"`
	StartPortID    Scalar `json:"startportid"`
	EndPortID      Scalar `json:"endportid"`
	RegionIDs      IDList `json:"regionids"`
	PortIDs        IDList `json:"portids"`
	NoFly          Scalar `json:"nofly"`
	DepartUK       Scalar `json:"departuk"`
	ShowCruise     Scalar `json:"showcruise"`
	Currency       Scalar `json:"currency"`

	LineContent json.RawMessage `json:"linecontent"`
	ShipContent json.RawMessage `json:"shipcontent"`
	Ports       json.RawMessage `json:"ports"`
	Itinerary   json.RawMessage `json:"itinerary"`
	Cabins      json.RawMessage `json:"cabins"`
	Prices      json.RawMessage `json:"prices"`
}

type lineContent struct {
	ID         Scalar `json:"id"`
	Name       Scalar `json:"name"`
	EngineName Scalar `json:"enginename"`
	Code       Scalar `json:"code"`
}

type shipContent struct {
	ID   Scalar `json:"id"`
	Name Scalar `json:"name"`
	Code Scalar `json:"code"`
}

type portContent struct {
	Name Scalar `json:"name"`
}

type itineraryDay struct {
	Day        Scalar `json:"day"`
	OrderID    Scalar `json:"orderid"`
	PortID     Scalar `json:"portid"`
	Name       Scalar `json:"name"`
	ArriveDate Scalar `json:"arrivedate"`
	DepartDate Scalar `json:"departdate"`
	ArriveTime Scalar `json:"arrivetime"`
	DepartTime Scalar `json:"departtime"`
}

type cabinContent struct {
	CabinCode  Scalar `json:"cabincode"`
	Name       Scalar `json:"name"`
	CodType    Scalar `json:"codtype"`
	ColourCode Scalar `json:"colourcode"`
}

type priceEntry struct {
	Price     Scalar `json:"price"`
	Taxes     Scalar `json:"taxes"`
	CabinType Scalar `json:"cabintype"`
}
